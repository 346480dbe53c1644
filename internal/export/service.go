// Package export renders the weekly allocation report as a PDF and
// optionally archives the artifact in object storage.
package export

import (
	"context"
	"fmt"
	"log"
	"sort"

	"planboard/api/internal/planning"
	"planboard/api/internal/store"
)

// Result is a generated report artifact.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// Service builds allocation reports from the booking mirror.
type Service struct {
	uploader *Uploader
}

// NewService creates an export service. uploader may be nil when object
// storage is not configured.
func NewService(uploader *Uploader) *Service {
	return &Service{uploader: uploader}
}

// AllocationReport renders booked hours per project per day for the given
// week (dates in YYYY-MM-DD, inclusive) and returns the PDF. A copy goes to
// object storage fire-and-forget when configured.
func (s *Service) AllocationReport(ctx context.Context, bookings []store.Booking, weekDates []string) (*Result, error) {
	if len(weekDates) == 0 {
		return nil, fmt.Errorf("no dates for report")
	}

	data := buildReportData(bookings, weekDates)
	html, err := renderReportHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	title := "allocation-" + weekDates[0]
	result, err := exportPDF(html, title)
	if err != nil {
		return nil, err
	}

	if s.uploader != nil {
		copyData := append([]byte{}, result.Data...)
		go func() {
			if err := s.uploader.Put(context.Background(), result.Filename, copyData, result.MimeType); err != nil {
				log.Printf("export: archive report %s: %v", result.Filename, err)
			}
		}()
	}
	return result, nil
}

func buildReportData(bookings []store.Booking, weekDates []string) reportData {
	projects := make(map[string]bool)
	for _, b := range bookings {
		projects[projectPrefix(b.TaskID)] = true
	}
	keys := make([]string, 0, len(projects))
	for key := range projects {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rows := make([]reportRow, 0, len(keys))
	for _, key := range keys {
		row := reportRow{Project: key}
		total := 0.0
		for _, date := range weekDates {
			hours := planning.TotalHours(bookings, planning.ByProjectKey(key), date)
			// Bare project keys (no dash) still count toward their own row.
			if hours == 0 {
				hours = planning.TotalHours(bookings, planning.ByTaskKeys([]string{key}), date)
			}
			row.Hours = append(row.Hours, hours)
			total += hours
		}
		row.Total = total
		rows = append(rows, row)
	}
	return reportData{
		WeekStart: weekDates[0],
		WeekEnd:   weekDates[len(weekDates)-1],
		Dates:     weekDates,
		Rows:      rows,
	}
}

func projectPrefix(taskKey string) string {
	for i := 0; i < len(taskKey); i++ {
		if taskKey[i] == '-' {
			return taskKey[:i]
		}
	}
	return taskKey
}
