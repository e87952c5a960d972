package orders

import "time"

type Item struct {
	ProductID      string `json:"product_id"`
	VariantID      string `json:"variant_id,omitempty"`
	Name           string `json:"name"`
	Qty            int    `json:"qty"`
	UnitPriceCents int    `json:"unit_price_cents"`
}

// HistoryEntry is one row of the append-only status log. The last entry
// always equals the order's current status.
type HistoryEntry struct {
	Status Status    `json:"status"`
	Note   string    `json:"note,omitempty"`
	At     time.Time `json:"at"`
}

type Order struct {
	ID                 string         `json:"id"`
	UserID             string         `json:"user_id"`
	Items              []Item         `json:"items"`
	ShippingAddress    string         `json:"shipping_address"`
	PaymentMethod      string         `json:"payment_method"`
	IsPaid             bool           `json:"is_paid"`
	PaidAt             *time.Time     `json:"paid_at,omitempty"`
	Status             Status         `json:"status"`
	CourierID          string         `json:"courier_id,omitempty"`
	RetryDeliveryCount int            `json:"retry_delivery_count"`
	AutoConfirmAt      *time.Time     `json:"auto_confirm_at,omitempty"`
	TotalCents         int            `json:"total_cents"`
	Version            int            `json:"-"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	History            []HistoryEntry `json:"history,omitempty"`
}

// ReminderTarget is one order approaching its auto-confirm deadline.
type ReminderTarget struct {
	OrderID       string
	UserID        string
	CourierID     string
	AutoConfirmAt time.Time
}
