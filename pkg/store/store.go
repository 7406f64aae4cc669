// Package store implements the repositories over the durable store.
// Each repository owns the SQL for one slice of the data model; callers
// depend on narrow interfaces so tests can substitute fakes.
package store

import (
	"errors"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Store bundles all repositories over one database handle.
type Store struct {
	Enrollments  *EnrollmentRepo
	Contacts     *ContactRepo
	Sequences    *SequenceRepo
	Interactions *InteractionRepo
	Audit        *AuditRepo
	Umbrellas    *UmbrellaRepo
}

// New creates the repository bundle.
func New(db *sqlx.DB) *Store {
	return &Store{
		Enrollments:  NewEnrollmentRepo(db),
		Contacts:     NewContactRepo(db),
		Sequences:    NewSequenceRepo(db),
		Interactions: NewInteractionRepo(db),
		Audit:        NewAuditRepo(db),
		Umbrellas:    NewUmbrellaRepo(db),
	}
}
