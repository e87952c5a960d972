package redisx

import (
	"fmt"
	"time"
)

const (
	// Read cache for order documents: order:{order_id} -> JSON.
	KeyOrderCache = "order:%s"

	// Courier heartbeat: presence:courier:{courier_id}, TTL = presence window.
	keyCourierPresence = "presence:courier:%s"

	// Daily reminder marker: remind:order:{order_id}, TTL 24h.
	KeyReminderSent = "remind:order:%s"
)

var (
	TTLOrderCache = 5 * time.Minute
	TTLReminder   = 24 * time.Hour
)

func OrderCacheKey(orderID string) string { return fmt.Sprintf(KeyOrderCache, orderID) }

func PresenceKey(courierID string) string { return fmt.Sprintf(keyCourierPresence, courierID) }

func ReminderKey(orderID string) string { return fmt.Sprintf(KeyReminderSent, orderID) }
