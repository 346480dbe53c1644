package store

import "time"

// Booking is one user's booked hours against a task on one calendar day.
// Natural key: (TaskID, UserID, Date) - the store enforces at most one row
// per triple.
type Booking struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"taskId"`
	UserID    string    `json:"userId"`
	Date      string    `json:"date"` // YYYY-MM-DD, day granularity
	Hours     float64   `json:"hours"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PlanningAssignment is the locally-planned assignee for a task, independent
// of the tracker's own assignee field. Natural key: TaskID.
type PlanningAssignment struct {
	ID                string    `json:"id"`
	TaskID            string    `json:"taskId"`
	PlannedAssigneeID string    `json:"plannedAssigneeId"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// BookingFilter narrows ListBookings. Zero fields match everything.
type BookingFilter struct {
	StartDate string
	EndDate   string
	TaskID    string
	UserID    string
}
