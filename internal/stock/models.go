package stock

import "time"

// VariantID is empty when the product has no variant dimension; the empty
// string is stored as-is so the (product, variant, user) unique index works
// without NULL handling.

type Level struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	OnHand    int    `json:"on_hand"`
}

type Reservation struct {
	ID         string
	ProductID  string
	VariantID  string
	UserID     string
	Qty        int
	ReservedAt time.Time
	ExpiresAt  time.Time
	Active     bool
}

type Item struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Qty       int    `json:"qty"`
}

// Availability is one line of a CheckBulk answer.
type Availability struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
	OK        bool   `json:"ok"`
}

// ProductSnapshot carries the catalog fields frozen onto an order line at
// checkout time.
type ProductSnapshot struct {
	ProductID  string
	SKU        string
	Name       string
	PriceCents int
}
