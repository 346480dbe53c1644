package export

import (
	"strings"
	"testing"

	"planboard/api/internal/store"
)

func weekDates() []string {
	return []string{
		"2026-05-04", "2026-05-05", "2026-05-06", "2026-05-07",
		"2026-05-08", "2026-05-09", "2026-05-10",
	}
}

func TestBuildReportData(t *testing.T) {
	bookings := []store.Booking{
		{TaskID: "A-1", UserID: "u1", Date: "2026-05-04", Hours: 3},
		{TaskID: "A-2", UserID: "u2", Date: "2026-05-04", Hours: 2},
		{TaskID: "B-1", UserID: "u1", Date: "2026-05-05", Hours: 4},
	}
	data := buildReportData(bookings, weekDates())

	if data.WeekStart != "2026-05-04" || data.WeekEnd != "2026-05-10" {
		t.Fatalf("week bounds = %s..%s", data.WeekStart, data.WeekEnd)
	}
	if len(data.Rows) != 2 {
		t.Fatalf("expected 2 project rows, got %d", len(data.Rows))
	}
	// Rows sort by project key.
	if data.Rows[0].Project != "A" || data.Rows[1].Project != "B" {
		t.Fatalf("row order: %+v", data.Rows)
	}
	if data.Rows[0].Hours[0] != 5 || data.Rows[0].Total != 5 {
		t.Fatalf("project A roll-up wrong: %+v", data.Rows[0])
	}
	if data.Rows[1].Hours[1] != 4 || data.Rows[1].Total != 4 {
		t.Fatalf("project B roll-up wrong: %+v", data.Rows[1])
	}
}

func TestRenderReportHTML(t *testing.T) {
	data := buildReportData([]store.Booking{
		{TaskID: "A-1", UserID: "u1", Date: "2026-05-04", Hours: 3.5},
	}, weekDates())
	html, err := renderReportHTML(data)
	if err != nil {
		t.Fatalf("renderReportHTML() error = %v", err)
	}
	if !strings.Contains(html, "3.5") {
		t.Fatalf("rendered report missing hours: %s", html)
	}
	if !strings.Contains(html, "2026-05-04") {
		t.Fatal("rendered report missing dates")
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"allocation-2026-05-04", "allocation-2026-05-04"},
		{"weird / name?", "weird--name"},
		{"", "report"},
		{strings.Repeat("a", 80), strings.Repeat("a", 50)},
	}
	for _, tc := range cases {
		if got := sanitizeFilename(tc.in); got != tc.want {
			t.Fatalf("sanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	got := percentEncodeForDataURL("<b>a b</b>")
	if strings.Contains(got, "+") {
		t.Fatalf("data URLs must not use plus encoding: %q", got)
	}
	if !strings.Contains(got, "%20") {
		t.Fatalf("space must be %%20: %q", got)
	}
	if strings.ContainsAny(got, "<>") {
		t.Fatalf("markup must be escaped: %q", got)
	}
}
