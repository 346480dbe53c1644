// Package planning owns the booking and planned-assignee mirrors and their
// reconciliation against the durable store.
package planning

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"math"
	"regexp"
	"sync"

	"planboard/api/internal/store"
)

// Store is the durable backend. *store.PostgresStore satisfies it; tests
// plug in fakes. InsertBooking and InsertAssignment upsert on the natural
// key, so a find-miss racing a concurrent insert still lands on one row.
type Store interface {
	ListBookings(ctx context.Context, filter store.BookingFilter) ([]store.Booking, error)
	FindBookingByNaturalKey(ctx context.Context, taskID, userID, date string) (store.Booking, error)
	InsertBooking(ctx context.Context, booking store.Booking) (store.Booking, error)
	UpdateBooking(ctx context.Context, id string, booking store.Booking) (store.Booking, error)
	DeleteBooking(ctx context.Context, id string) (bool, error)
	ListAssignments(ctx context.Context, taskID string) ([]store.PlanningAssignment, error)
	FindAssignmentByTask(ctx context.Context, taskID string) (store.PlanningAssignment, error)
	InsertAssignment(ctx context.Context, assignment store.PlanningAssignment) (store.PlanningAssignment, error)
	UpdateAssignment(ctx context.Context, id string, assignment store.PlanningAssignment) (store.PlanningAssignment, error)
}

var (
	// ErrValidation rejects malformed input before any durable call.
	ErrValidation = errors.New("validation failed")
	// ErrPersistenceUnavailable marks a failed durable call. Recoverable:
	// the caller keeps a memory-only record and warns the user.
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
)

var dateFormat = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Reconciler keeps local mirrors of bookings and assignments in step with
// the durable store. Upserts resolve by natural key so rapid sequential
// edits never fork duplicate records; the server-confirmed row (with its
// updated_at) is what lands in the mirror, giving deterministic
// last-write-wins by server timestamp when writes race.
type Reconciler struct {
	store Store

	mu          sync.RWMutex
	bookings    []store.Booking
	assignments []store.PlanningAssignment
}

func NewReconciler(st Store) *Reconciler {
	return &Reconciler{store: st}
}

// BookingResult carries the reconciled record and whether it is durable.
type BookingResult struct {
	Booking store.Booking
	Durable bool
}

type AssignmentResult struct {
	Assignment store.PlanningAssignment
	Durable    bool
}

// UpsertBooking persists a booking with the natural-key-first policy: an
// explicit id updates that row; otherwise the (task, user, date) row is
// updated if it exists and inserted if not. On persistence failure the
// caller gets a synthesized memory-only record instead of losing the edit.
func (r *Reconciler) UpsertBooking(ctx context.Context, input store.Booking) (BookingResult, error) {
	if err := validateBooking(input); err != nil {
		return BookingResult{}, err
	}

	confirmed, err := r.persistBooking(ctx, input)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			return BookingResult{}, err
		}
		log.Printf("planning: booking persistence failed, keeping memory-only copy: %v", err)
		synthesized := input
		if synthesized.ID == "" {
			synthesized.ID = memoryID()
		}
		r.mergeBooking(synthesized)
		return BookingResult{Booking: synthesized, Durable: false}, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}

	r.mergeBooking(confirmed)
	return BookingResult{Booking: confirmed, Durable: true}, nil
}

func (r *Reconciler) persistBooking(ctx context.Context, input store.Booking) (store.Booking, error) {
	if input.ID != "" {
		return r.store.UpdateBooking(ctx, input.ID, input)
	}
	existing, err := r.store.FindBookingByNaturalKey(ctx, input.TaskID, input.UserID, input.Date)
	if err == nil {
		return r.store.UpdateBooking(ctx, existing.ID, input)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Booking{}, err
	}
	return r.store.InsertBooking(ctx, input)
}

// mergeBooking applies the optimistic-merge rule: replace by id, else by
// natural key, else append. Idempotent under repeated application, so the
// mirror never accumulates duplicate natural keys.
func (r *Reconciler) mergeBooking(confirmed store.Booking) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, b := range r.bookings {
		if (confirmed.ID != "" && b.ID == confirmed.ID) ||
			(b.TaskID == confirmed.TaskID && b.UserID == confirmed.UserID && b.Date == confirmed.Date) {
			r.bookings[i] = confirmed
			return
		}
	}
	r.bookings = append(r.bookings, confirmed)
}

// ListBookings fetches from the durable store and rehydrates the local
// mirror. On store failure the previous mirror stays visible.
func (r *Reconciler) ListBookings(ctx context.Context, filter store.BookingFilter) ([]store.Booking, error) {
	bookings, err := r.store.ListBookings(ctx, filter)
	if err != nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return append([]store.Booking{}, r.bookings...), fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	r.mu.Lock()
	r.bookings = append([]store.Booking{}, bookings...)
	r.mu.Unlock()
	return bookings, nil
}

func (r *Reconciler) DeleteBooking(ctx context.Context, id string) (bool, error) {
	deleted, err := r.store.DeleteBooking(ctx, id)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	r.mu.Lock()
	for i, b := range r.bookings {
		if b.ID == id {
			r.bookings = append(r.bookings[:i], r.bookings[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	return deleted, nil
}

// UpsertAssignment applies the same policy keyed by task alone: one planned
// assignee per task, last write wins.
func (r *Reconciler) UpsertAssignment(ctx context.Context, input store.PlanningAssignment) (AssignmentResult, error) {
	if input.TaskID == "" || input.PlannedAssigneeID == "" {
		return AssignmentResult{}, fmt.Errorf("%w: taskId and plannedAssigneeId are required", ErrValidation)
	}

	confirmed, err := r.persistAssignment(ctx, input)
	if err != nil {
		log.Printf("planning: assignment persistence failed, keeping memory-only copy: %v", err)
		synthesized := input
		if synthesized.ID == "" {
			synthesized.ID = memoryID()
		}
		r.mergeAssignment(synthesized)
		return AssignmentResult{Assignment: synthesized, Durable: false}, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}

	r.mergeAssignment(confirmed)
	return AssignmentResult{Assignment: confirmed, Durable: true}, nil
}

func (r *Reconciler) persistAssignment(ctx context.Context, input store.PlanningAssignment) (store.PlanningAssignment, error) {
	if input.ID != "" {
		return r.store.UpdateAssignment(ctx, input.ID, input)
	}
	existing, err := r.store.FindAssignmentByTask(ctx, input.TaskID)
	if err == nil {
		return r.store.UpdateAssignment(ctx, existing.ID, input)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.PlanningAssignment{}, err
	}
	return r.store.InsertAssignment(ctx, input)
}

func (r *Reconciler) mergeAssignment(confirmed store.PlanningAssignment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, a := range r.assignments {
		if (confirmed.ID != "" && a.ID == confirmed.ID) || a.TaskID == confirmed.TaskID {
			r.assignments[i] = confirmed
			return
		}
	}
	r.assignments = append(r.assignments, confirmed)
}

func (r *Reconciler) ListAssignments(ctx context.Context, taskID string) ([]store.PlanningAssignment, error) {
	assignments, err := r.store.ListAssignments(ctx, taskID)
	if err != nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return append([]store.PlanningAssignment{}, r.assignments...), fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	r.mu.Lock()
	r.assignments = append([]store.PlanningAssignment{}, assignments...)
	r.mu.Unlock()
	return assignments, nil
}

// Bookings returns the current local mirror.
func (r *Reconciler) Bookings() []store.Booking {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]store.Booking{}, r.bookings...)
}

// The UI zeroes empty inputs and blocks free text before calling; the
// reconciler still rejects anything negative or non-finite itself.
func validateBooking(booking store.Booking) error {
	if booking.TaskID == "" || booking.UserID == "" || booking.Date == "" {
		return fmt.Errorf("%w: taskId, userId and date are required", ErrValidation)
	}
	if !dateFormat.MatchString(booking.Date) {
		return fmt.Errorf("%w: date must be YYYY-MM-DD", ErrValidation)
	}
	if math.IsNaN(booking.Hours) || math.IsInf(booking.Hours, 0) {
		return fmt.Errorf("%w: hours must be a finite number", ErrValidation)
	}
	if booking.Hours < 0 {
		return fmt.Errorf("%w: hours must not be negative", ErrValidation)
	}
	return nil
}

// memoryID marks a record that only exists in memory until the store
// recovers.
func memoryID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return "mem-" + hex.EncodeToString(buf)
}
