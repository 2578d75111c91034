package models

import (
	"fmt"
	"time"
)

// Term enumerates the semesters a subject can be offered in.
type Term string

// Supported terms.
const (
	TermFirstSemester  Term = "FIRST_SEMESTER"
	TermSecondSemester Term = "SECOND_SEMESTER"
	TermSummerSemester Term = "SUMMER_SEMESTER"
)

// Valid reports whether t is one of the supported terms.
func (t Term) Valid() bool {
	switch t {
	case TermFirstSemester, TermSecondSemester, TermSummerSemester:
		return true
	}
	return false
}

// Subject is a course offering with a seat budget and a registration gate.
type Subject struct {
	ID                  string    `db:"id" json:"id"`
	Code                string    `db:"code" json:"code"`
	Name                string    `db:"name" json:"name"`
	Term                Term      `db:"term" json:"term"`
	AcademicYear        string    `db:"academic_year" json:"academic_year"`
	RemainingCapacity   int       `db:"remaining_capacity" json:"remaining_capacity"`
	OpenForRegistration bool      `db:"open_for_registration" json:"open_for_registration"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time `db:"updated_at" json:"updated_at"`
}

// AcceptsRegistrations reports whether a new seat may be claimed right now.
func (s *Subject) AcceptsRegistrations() bool {
	return s.OpenForRegistration && s.RemainingCapacity > 0
}

// CheckInvariant verifies the capacity/gate relationship: a subject without
// remaining seats is never open.
func (s *Subject) CheckInvariant() error {
	if s.RemainingCapacity < 0 {
		return fmt.Errorf("subject %s: negative remaining capacity %d", s.Code, s.RemainingCapacity)
	}
	if s.RemainingCapacity == 0 && s.OpenForRegistration {
		return fmt.Errorf("subject %s: open for registration with no remaining capacity", s.Code)
	}
	return nil
}

// Normalize closes the gate when no seats remain.
func (s *Subject) Normalize() {
	if s.RemainingCapacity <= 0 {
		s.RemainingCapacity = 0
		s.OpenForRegistration = false
	}
}

// SubjectFilter captures supported filters for listing subjects.
type SubjectFilter struct {
	Term         Term
	AcademicYear string
	Open         *bool
	Search       string
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}

// SubjectListing is a subject as seen by a particular user.
type SubjectListing struct {
	Subject
	Registered bool `json:"registered"`
}

// SubjectSummary is a subject together with the number of seats claimed.
type SubjectSummary struct {
	Subject
	RegisteredCount int `db:"registered_count" json:"registered_count"`
}
