package registry

import "errors"

// Profile is a named grouping of accounts ("Home", "Office").
type Profile struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Accounts []Account `json:"accounts"`
}

// Account is a single utility subscription tracked under a profile.
type Account struct {
	ID          string      `json:"id"`
	ServiceType ServiceType `json:"service_type"`
	ConsumerID  string      `json:"consumer_id"`
	NumberPlate string      `json:"number_plate,omitempty"`
	Label       string      `json:"label,omitempty"`
	ProfileID   string      `json:"profile_id"`
	// LocalOnly marks an account synthesized after a failed upstream
	// registration; it has no backend counterpart yet.
	LocalOnly bool `json:"local_only,omitempty"`
}

// Validate checks account invariants.
func (a Account) Validate() error {
	if _, ok := NormalizeServiceType(string(a.ServiceType)); !ok {
		return errors.New("account: unknown service type")
	}
	if a.ConsumerID == "" {
		return errors.New("account: empty consumer id")
	}
	if a.ServiceType == ServiceChallan && a.NumberPlate == "" {
		return errors.New("account: challan account requires number plate")
	}
	return nil
}

// AccountDraft is the user-supplied part of a new account.
type AccountDraft struct {
	ServiceType ServiceType `json:"service_type"`
	ConsumerID  string      `json:"consumer_id"`
	NumberPlate string      `json:"number_plate,omitempty"`
	Label       string      `json:"label,omitempty"`
}
