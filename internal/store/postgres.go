package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

var ErrNotFound = errors.New("record not found")

// PostgresStore persists bookings and planning assignments. Columns use
// snake_case; translation to the wire casing happens in the scan/insert
// helpers here, not in callers.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const bookingColumns = `id, task_id, user_id, to_char(date, 'YYYY-MM-DD'), hours, created_at, updated_at`

func (s *PostgresStore) ListBookings(ctx context.Context, filter BookingFilter) ([]Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings`
	conditions := make([]string, 0, 4)
	args := make([]any, 0, 4)
	appendCondition := func(clause, value string) {
		args = append(args, value)
		conditions = append(conditions, clause+" $"+strconv.Itoa(len(args)))
	}
	if filter.StartDate != "" {
		appendCondition("date >=", filter.StartDate)
	}
	if filter.EndDate != "" {
		appendCondition("date <=", filter.EndDate)
	}
	if filter.TaskID != "" {
		appendCondition("task_id =", filter.TaskID)
	}
	if filter.UserID != "" {
		appendCondition("user_id =", filter.UserID)
	}
	for i, condition := range conditions {
		if i == 0 {
			query += " WHERE " + condition
		} else {
			query += " AND " + condition
		}
	}
	query += " ORDER BY date ASC, task_id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	bookings := make([]Booking, 0)
	for rows.Next() {
		var b Booking
		if err := rows.Scan(&b.ID, &b.TaskID, &b.UserID, &b.Date, &b.Hours, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// FindBookingByNaturalKey looks up the single row for (task, user, date).
func (s *PostgresStore) FindBookingByNaturalKey(ctx context.Context, taskID, userID, date string) (Booking, error) {
	var b Booking
	err := s.db.QueryRowContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE task_id=$1 AND user_id=$2 AND date=$3
	`, taskID, userID, date).Scan(&b.ID, &b.TaskID, &b.UserID, &b.Date, &b.Hours, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Booking{}, ErrNotFound
	}
	if err != nil {
		return Booking{}, fmt.Errorf("find booking: %w", err)
	}
	return b, nil
}

// InsertBooking upserts on the natural key, so two concurrent first writes
// for the same (task, user, date) both land on the one row instead of the
// loser tripping the UNIQUE constraint.
func (s *PostgresStore) InsertBooking(ctx context.Context, booking Booking) (Booking, error) {
	var b Booking
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO bookings (task_id, user_id, date, hours)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (task_id, user_id, date)
		DO UPDATE SET hours = EXCLUDED.hours, updated_at = NOW()
		RETURNING `+bookingColumns+`
	`, booking.TaskID, booking.UserID, booking.Date, booking.Hours).
		Scan(&b.ID, &b.TaskID, &b.UserID, &b.Date, &b.Hours, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return Booking{}, fmt.Errorf("insert booking: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) UpdateBooking(ctx context.Context, id string, booking Booking) (Booking, error) {
	var b Booking
	err := s.db.QueryRowContext(ctx, `
		UPDATE bookings
		SET task_id=$2, user_id=$3, date=$4, hours=$5, updated_at=NOW()
		WHERE id=$1
		RETURNING `+bookingColumns+`
	`, id, booking.TaskID, booking.UserID, booking.Date, booking.Hours).
		Scan(&b.ID, &b.TaskID, &b.UserID, &b.Date, &b.Hours, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Booking{}, ErrNotFound
	}
	if err != nil {
		return Booking{}, fmt.Errorf("update booking: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) DeleteBooking(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM bookings WHERE id=$1`, id)
	if err != nil {
		return false, fmt.Errorf("delete booking: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete booking rows affected: %w", err)
	}
	return affected > 0, nil
}

const assignmentColumns = `id, task_id, planned_assignee_id, created_at, updated_at`

func (s *PostgresStore) ListAssignments(ctx context.Context, taskID string) ([]PlanningAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM planning_assignments`
	args := []any{}
	if taskID != "" {
		query += ` WHERE task_id=$1`
		args = append(args, taskID)
	}
	query += ` ORDER BY task_id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	assignments := make([]PlanningAssignment, 0)
	for rows.Next() {
		var a PlanningAssignment
		if err := rows.Scan(&a.ID, &a.TaskID, &a.PlannedAssigneeID, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

func (s *PostgresStore) FindAssignmentByTask(ctx context.Context, taskID string) (PlanningAssignment, error) {
	var a PlanningAssignment
	err := s.db.QueryRowContext(ctx, `
		SELECT `+assignmentColumns+` FROM planning_assignments WHERE task_id=$1
	`, taskID).Scan(&a.ID, &a.TaskID, &a.PlannedAssigneeID, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return PlanningAssignment{}, ErrNotFound
	}
	if err != nil {
		return PlanningAssignment{}, fmt.Errorf("find assignment: %w", err)
	}
	return a, nil
}

// InsertAssignment upserts on task_id for the same reason InsertBooking
// does: concurrent first plans for a task must not race the constraint.
func (s *PostgresStore) InsertAssignment(ctx context.Context, assignment PlanningAssignment) (PlanningAssignment, error) {
	var a PlanningAssignment
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO planning_assignments (task_id, planned_assignee_id)
		VALUES ($1, $2)
		ON CONFLICT (task_id)
		DO UPDATE SET planned_assignee_id = EXCLUDED.planned_assignee_id, updated_at = NOW()
		RETURNING `+assignmentColumns+`
	`, assignment.TaskID, assignment.PlannedAssigneeID).
		Scan(&a.ID, &a.TaskID, &a.PlannedAssigneeID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return PlanningAssignment{}, fmt.Errorf("insert assignment: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) UpdateAssignment(ctx context.Context, id string, assignment PlanningAssignment) (PlanningAssignment, error) {
	var a PlanningAssignment
	err := s.db.QueryRowContext(ctx, `
		UPDATE planning_assignments
		SET planned_assignee_id=$2, updated_at=NOW()
		WHERE id=$1
		RETURNING `+assignmentColumns+`
	`, id, assignment.PlannedAssigneeID).
		Scan(&a.ID, &a.TaskID, &a.PlannedAssigneeID, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return PlanningAssignment{}, ErrNotFound
	}
	if err != nil {
		return PlanningAssignment{}, fmt.Errorf("update assignment: %w", err)
	}
	return a, nil
}
