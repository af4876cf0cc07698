package billing

import "time"

// Snapshot statuses. Unknown means "could not be verified", which the
// UI must render distinctly from a genuine zero-due paid bill.
const (
	StatusPaid    = "paid"
	StatusUnpaid  = "unpaid"
	StatusUnknown = "unknown"
)

// Snapshot is the locally held bill state for one account at a point
// in time.
type Snapshot struct {
	Status        string   `json:"status"`
	AmountDue     float64  `json:"amount_due"`
	UnitsConsumed *float64 `json:"units_consumed,omitempty"`
	ConsumerName  string   `json:"consumer_name,omitempty"`
	DueDate       string   `json:"due_date,omitempty"`
	BillingPeriod string   `json:"billing_period,omitempty"`
	// Err distinguishes "fetch failed" from "fetch succeeded, zero due".
	Err       bool      `json:"error"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Failed returns the snapshot recorded when a fetch fails. It must
// never be displayed as an authoritative zero or paid bill.
func Failed(now time.Time) Snapshot {
	return Snapshot{Status: StatusUnknown, AmountDue: 0, Err: true, FetchedAt: now}
}

// Paid returns the snapshot applied by an optimistic payment
// completion.
func Paid(now time.Time) Snapshot {
	return Snapshot{Status: StatusPaid, AmountDue: 0, FetchedAt: now}
}

// Authoritative reports whether the snapshot came from a successful
// fetch and may be shown as real data.
func (s Snapshot) Authoritative() bool {
	return !s.Err
}

// NormalizeStatus maps an upstream status onto the local enum. The
// upstream "pending" state still carries an outstanding amount, so it
// renders as unpaid; anything unrecognized is unknown.
func NormalizeStatus(value string) string {
	switch value {
	case StatusPaid:
		return StatusPaid
	case StatusUnpaid, "pending":
		return StatusUnpaid
	default:
		return StatusUnknown
	}
}
