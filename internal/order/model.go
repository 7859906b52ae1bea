package order

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusScanned   Status = "scanned"
	StatusCancelled Status = "cancelled"
)

func (s Status) String() string {
	return string(s)
}

// allowedTransitions is the order state machine. scanned and cancelled are
// terminal.
var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusConfirmed: true,
		StatusCompleted: true,
		StatusCancelled: true,
	},
	StatusConfirmed: {
		StatusCompleted: true,
		StatusCancelled: true,
	},
	StatusCompleted: {
		StatusScanned: true,
	},
	StatusScanned:   {},
	StatusCancelled: {},
}

// CanTransition reports whether the state machine permits from → to.
func CanTransition(from, to Status) bool {
	return allowedTransitions[from][to]
}

// adminSettable is the subset of statuses an admin may set directly.
var adminSettable = map[Status]bool{
	StatusPending:   true,
	StatusConfirmed: true,
	StatusCompleted: true,
}

type PaymentMethod string

const (
	MethodCash   PaymentMethod = "cash"
	MethodOnline PaymentMethod = "online"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
)

type Order struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	TotalPrice int64     `json:"total_price"`
	Status     Status    `json:"status"`
	Items      []Item    `json:"items"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Item is a priced snapshot of one menu position at order time. UnitPrice is
// never re-read from the catalog after creation.
type Item struct {
	ID        int64 `json:"id"`
	OrderID   int64 `json:"order_id"`
	FoodID    int64 `json:"food_id"`
	Quantity  int   `json:"quantity"`
	UnitPrice int64 `json:"unit_price"`
}

type Payment struct {
	ID        int64         `json:"id"`
	OrderID   int64         `json:"order_id"`
	Method    PaymentMethod `json:"method"`
	Amount    int64         `json:"amount"`
	Status    PaymentStatus `json:"status"`
	TxnRef    string        `json:"transaction_id,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}
