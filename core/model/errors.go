package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCapacity is returned by a reservation that lost the race or found
	// the ambulance busy. It never leaves the dispatch matcher.
	ErrNoCapacity = errors.New("no capacity")
	// ErrNotFound matches every NotFoundError.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition matches every InvalidTransitionError.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrValidation matches every ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrConflict is returned when registering an id that already exists.
	ErrConflict = errors.New("already exists")
)

// ValidationError reports malformed input rejected before any state change.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports an unknown call or ambulance id.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// InvalidTransitionError reports an illegal state change. The record is left
// unchanged.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s %q: invalid transition %s -> %s", e.Entity, e.ID, e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// InvariantError reports a record whose cross-reference fields disagree with
// its status.
type InvariantError struct {
	Entity string
	ID     string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Entity, e.ID, e.Detail)
}
