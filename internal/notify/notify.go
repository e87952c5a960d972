// Package notify triggers user-facing notifications on state changes. The
// transport (mail, push) is an external consumer of the notify.requests topic;
// this package only publishes the request.
package notify

import "context"

type Kind string

const (
	KindOrder    Kind = "order"
	KindDelivery Kind = "delivery"
	KindReminder Kind = "reminder"
)

type Notification struct {
	UserID  string         `json:"user_id"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Kind    Kind           `json:"kind"`
	Link    string         `json:"link,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Trigger is fire-and-forget: implementations log failures and never return
// them, so a dead broker cannot roll back the transition that fired it.
type Trigger interface {
	Notify(ctx context.Context, n Notification)
}

// Nop discards notifications. Used in tests and as a fallback when no broker
// is configured.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) {}
