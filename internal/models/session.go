package models

// SessionStatus is the view of a staff session returned to the front end.
type SessionStatus struct {
	State            string `json:"state"`
	Authenticated    bool   `json:"authenticated"`
	Warning          bool   `json:"warning"`
	RemainingSeconds int64  `json:"remaining_seconds"`
	Countdown        string `json:"countdown"`
}
