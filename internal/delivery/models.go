package delivery

import "time"

// Tracking is the one-per-order delivery record, created lazily when a
// courier is assigned and retained after the order closes. Each *_time column
// is set exactly once, in transition order.
type Tracking struct {
	OrderID   string `json:"order_id"`
	CourierID string `json:"courier_id"`
	State     State  `json:"state"`

	PickupImages   []string `json:"pickup_images,omitempty"`
	DeliveryImages []string `json:"delivery_images,omitempty"`
	ReturnImages   []string `json:"return_images,omitempty"`
	FailureImages  []string `json:"failure_images,omitempty"`
	FailureReason  string   `json:"failure_reason,omitempty"`
	RetryCount     int      `json:"retry_count"`
	Breadcrumbs    []string `json:"breadcrumbs,omitempty"`

	PickupTime       *time.Time `json:"pickup_time,omitempty"`
	TransitStartTime *time.Time `json:"transit_start_time,omitempty"`
	ArrivedTime      *time.Time `json:"arrived_time,omitempty"`
	DeliveryTime     *time.Time `json:"delivery_time,omitempty"`

	Version   int       `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
