package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"planboard/api/internal/jira"
	"planboard/api/internal/store"
)

// fakeGateway scripts tracker answers per call.
type fakeGateway struct {
	mu             sync.Mutex
	projectsFn     func(jira.Credentials) ([]jira.Project, error)
	statusesFn     func(jira.Credentials, string) ([]jira.Status, error)
	searchFn       func(jira.Credentials, []string, *time.Time) ([]jira.Issue, error)
	testFn         func(jira.Credentials) (jira.ServerInfo, error)
	lastSince      *time.Time
	searchRequests int
}

func (f *fakeGateway) ListProjects(_ context.Context, creds jira.Credentials) ([]jira.Project, error) {
	if f.projectsFn != nil {
		return f.projectsFn(creds)
	}
	return []jira.Project{}, nil
}

func (f *fakeGateway) ListStatuses(_ context.Context, creds jira.Credentials, projectKey string) ([]jira.Status, error) {
	if f.statusesFn != nil {
		return f.statusesFn(creds, projectKey)
	}
	return []jira.Status{}, nil
}

func (f *fakeGateway) SearchIssues(_ context.Context, creds jira.Credentials, projectKeys []string, since *time.Time) ([]jira.Issue, error) {
	f.mu.Lock()
	f.searchRequests++
	f.lastSince = since
	f.mu.Unlock()
	if f.searchFn != nil {
		return f.searchFn(creds, projectKeys, since)
	}
	return []jira.Issue{}, nil
}

func (f *fakeGateway) TestConnection(_ context.Context, creds jira.Credentials) (jira.ServerInfo, error) {
	if f.testFn != nil {
		return f.testFn(creds)
	}
	return jira.ServerInfo{Version: "9.4.0"}, nil
}

// fakePlanStore is the in-memory planning backend for handler tests.
type fakePlanStore struct {
	mu          sync.Mutex
	bookings    map[string]store.Booking
	assignments map[string]store.PlanningAssignment
	nextID      int
	failing     bool
	pingErr     error
}

func newFakePlanStore() *fakePlanStore {
	return &fakePlanStore{
		bookings:    make(map[string]store.Booking),
		assignments: make(map[string]store.PlanningAssignment),
	}
}

var errStoreDown = errors.New("store down")

func (f *fakePlanStore) Ping(context.Context) error { return f.pingErr }

func (f *fakePlanStore) id() string {
	f.nextID++
	return fmt.Sprintf("row-%d", f.nextID)
}

func (f *fakePlanStore) ListBookings(_ context.Context, filter store.BookingFilter) ([]store.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, errStoreDown
	}
	out := make([]store.Booking, 0, len(f.bookings))
	for _, b := range f.bookings {
		if filter.TaskID != "" && b.TaskID != filter.TaskID {
			continue
		}
		if filter.StartDate != "" && b.Date < filter.StartDate {
			continue
		}
		if filter.EndDate != "" && b.Date > filter.EndDate {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (f *fakePlanStore) FindBookingByNaturalKey(_ context.Context, taskID, userID, date string) (store.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return store.Booking{}, errStoreDown
	}
	for _, b := range f.bookings {
		if b.TaskID == taskID && b.UserID == userID && b.Date == date {
			return b, nil
		}
	}
	return store.Booking{}, store.ErrNotFound
}

func (f *fakePlanStore) InsertBooking(_ context.Context, booking store.Booking) (store.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return store.Booking{}, errStoreDown
	}
	// Natural-key conflicts update, matching the SQL store.
	for id, existing := range f.bookings {
		if existing.TaskID == booking.TaskID && existing.UserID == booking.UserID && existing.Date == booking.Date {
			existing.Hours = booking.Hours
			f.bookings[id] = existing
			return existing, nil
		}
	}
	booking.ID = f.id()
	f.bookings[booking.ID] = booking
	return booking, nil
}

func (f *fakePlanStore) UpdateBooking(_ context.Context, id string, booking store.Booking) (store.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return store.Booking{}, errStoreDown
	}
	existing, ok := f.bookings[id]
	if !ok {
		return store.Booking{}, store.ErrNotFound
	}
	existing.Hours = booking.Hours
	existing.TaskID = booking.TaskID
	existing.UserID = booking.UserID
	existing.Date = booking.Date
	f.bookings[id] = existing
	return existing, nil
}

func (f *fakePlanStore) DeleteBooking(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return false, errStoreDown
	}
	if _, ok := f.bookings[id]; !ok {
		return false, nil
	}
	delete(f.bookings, id)
	return true, nil
}

func (f *fakePlanStore) ListAssignments(_ context.Context, taskID string) ([]store.PlanningAssignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, errStoreDown
	}
	out := make([]store.PlanningAssignment, 0, len(f.assignments))
	for _, a := range f.assignments {
		if taskID != "" && a.TaskID != taskID {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (f *fakePlanStore) FindAssignmentByTask(_ context.Context, taskID string) (store.PlanningAssignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return store.PlanningAssignment{}, errStoreDown
	}
	for _, a := range f.assignments {
		if a.TaskID == taskID {
			return a, nil
		}
	}
	return store.PlanningAssignment{}, store.ErrNotFound
}

func (f *fakePlanStore) InsertAssignment(_ context.Context, assignment store.PlanningAssignment) (store.PlanningAssignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return store.PlanningAssignment{}, errStoreDown
	}
	for id, existing := range f.assignments {
		if existing.TaskID == assignment.TaskID {
			existing.PlannedAssigneeID = assignment.PlannedAssigneeID
			f.assignments[id] = existing
			return existing, nil
		}
	}
	assignment.ID = f.id()
	f.assignments[assignment.ID] = assignment
	return assignment, nil
}

func (f *fakePlanStore) UpdateAssignment(_ context.Context, id string, assignment store.PlanningAssignment) (store.PlanningAssignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return store.PlanningAssignment{}, errStoreDown
	}
	existing, ok := f.assignments[id]
	if !ok {
		return store.PlanningAssignment{}, store.ErrNotFound
	}
	existing.PlannedAssigneeID = assignment.PlannedAssigneeID
	f.assignments[id] = existing
	return existing, nil
}
