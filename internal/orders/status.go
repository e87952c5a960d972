package orders

type Status string

const (
	StatusPending          Status = "pending"
	StatusConfirmed        Status = "confirmed"
	StatusProcessing       Status = "processing"
	StatusShipped          Status = "shipped"
	StatusDeliveredSuccess Status = "delivered_success"
	StatusDeliveredFailed  Status = "delivered_failed"
	StatusCompleted        Status = "completed"
	StatusCancelled        Status = "cancelled"
	StatusReturned         Status = "returned"
	StatusRefundRequested  Status = "refund_requested"
	StatusRefunded         Status = "refunded"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:          {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed:        {StatusProcessing: true, StatusCancelled: true},
	StatusProcessing:       {StatusShipped: true, StatusCancelled: true},
	StatusShipped:          {StatusDeliveredSuccess: true, StatusDeliveredFailed: true},
	StatusDeliveredSuccess: {StatusCompleted: true, StatusRefundRequested: true},
	StatusDeliveredFailed:  {StatusReturned: true},
	StatusCompleted:        {StatusRefundRequested: true},
	StatusReturned:         {StatusRefundRequested: true},
	StatusRefundRequested:  {StatusRefunded: true},
	StatusRefunded:         {},
	StatusCancelled:        {},
}

func Known(s Status) bool {
	_, ok := validNext[s]
	return ok
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
	RoleCourier  Role = "courier"
	// RoleSystem is the scheduler and the delivery sub-machine propagating
	// outcomes; it is never accepted from the HTTP layer.
	RoleSystem Role = "system"
)

type Actor struct {
	UserID string
	Role   Role
}

var SystemActor = Actor{UserID: "system", Role: RoleSystem}

// roleMayEnter lists which roles may drive an order INTO each status.
// Couriers never touch order status directly; their delivery transitions
// propagate through the system actor.
var roleMayEnter = map[Status]map[Role]bool{
	StatusConfirmed:        {RoleAdmin: true},
	StatusProcessing:       {RoleAdmin: true, RoleSystem: true},
	StatusShipped:          {RoleAdmin: true, RoleSystem: true},
	StatusDeliveredSuccess: {RoleSystem: true},
	StatusDeliveredFailed:  {RoleSystem: true},
	StatusCompleted:        {RoleAdmin: true, RoleCustomer: true, RoleSystem: true},
	StatusCancelled:        {RoleAdmin: true, RoleCustomer: true},
	StatusReturned:         {RoleSystem: true},
	StatusRefundRequested:  {RoleCustomer: true, RoleAdmin: true},
	StatusRefunded:         {RoleAdmin: true},
}

func RoleMayEnter(target Status, r Role) bool {
	return roleMayEnter[target][r]
}
