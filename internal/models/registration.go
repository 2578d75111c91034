package models

import "time"

// Registration links one user to one subject they hold a seat in.
type Registration struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	SubjectID string    `db:"subject_id" json:"subject_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// RegistrationDetail enriches Registration with user info for rosters.
type RegistrationDetail struct {
	Registration
	Username string `db:"username" json:"username"`
	FullName string `db:"full_name" json:"full_name"`
}

// RegistrationOutcome describes what a register/unregister call did.
type RegistrationOutcome string

// Possible outcomes.
const (
	OutcomeRegistered         RegistrationOutcome = "REGISTERED"
	OutcomeSubjectFull        RegistrationOutcome = "SUBJECT_FULL"
	OutcomeRegistrationClosed RegistrationOutcome = "REGISTRATION_CLOSED"
	OutcomeUnregistered       RegistrationOutcome = "UNREGISTERED"
	OutcomeNotRegistered      RegistrationOutcome = "NOT_REGISTERED"
)

// Changed reports whether the outcome mutated the ledger.
func (o RegistrationOutcome) Changed() bool {
	return o == OutcomeRegistered || o == OutcomeUnregistered
}

// RegistrationResult is returned by the registration coordinator.
type RegistrationResult struct {
	Outcome RegistrationOutcome `json:"outcome"`
	Subject Subject             `json:"subject"`
}
