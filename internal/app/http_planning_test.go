package app

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"planboard/api/internal/config"
)

func TestBookingUpsertAndList(t *testing.T) {
	fs := newFakePlanStore()
	server := newTestServer(fs, &fakeGateway{}, config.Config{})

	body := `{"taskId":"PROJ-1","userId":"u1","date":"2026-05-04","hours":3}`
	rr := doRequest(server, httptest.NewRequest(http.MethodPost, "/api/bookings", strings.NewReader(body)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	response := decodeResponse(t, rr)
	if response["durable"] != true {
		t.Fatalf("expected durable write, got %v", response)
	}
	booking, _ := response["booking"].(map[string]any)
	if booking["id"] == "" || booking["id"] == nil {
		t.Fatalf("expected server-assigned id, got %v", booking)
	}

	// Same natural key updates in place.
	body = `{"taskId":"PROJ-1","userId":"u1","date":"2026-05-04","hours":5}`
	rr = doRequest(server, httptest.NewRequest(http.MethodPost, "/api/bookings", strings.NewReader(body)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = doRequest(server, httptest.NewRequest(http.MethodGet, "/api/bookings?startDate=2026-05-04&endDate=2026-05-04", nil))
	response = decodeResponse(t, rr)
	bookings, _ := response["bookings"].([]any)
	if len(bookings) != 1 {
		t.Fatalf("expected 1 booking after upsert, got %v", response["bookings"])
	}
	row, _ := bookings[0].(map[string]any)
	if row["hours"] != float64(5) {
		t.Fatalf("hours = %v, want 5", row["hours"])
	}
	if _, ok := row["updatedAt"]; !ok {
		t.Fatalf("expected camelCase timestamps on the wire: %v", row)
	}
	if _, ok := row["updated_at"]; ok {
		t.Fatalf("column casing leaked onto the wire: %v", row)
	}
}

func TestBookingNegativeHoursRejected(t *testing.T) {
	server := newTestServer(newFakePlanStore(), &fakeGateway{}, config.Config{})

	body := `{"taskId":"PROJ-1","userId":"u1","date":"2026-05-04","hours":-1}`
	rr := doRequest(server, httptest.NewRequest(http.MethodPost, "/api/bookings", strings.NewReader(body)))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rr.Code, rr.Body.String())
	}
	if response := decodeResponse(t, rr); response["code"] != "VALIDATION_FAILED" {
		t.Fatalf("code = %v", response["code"])
	}
}

func TestBookingDegradedMode(t *testing.T) {
	fs := newFakePlanStore()
	fs.failing = true
	server := newTestServer(fs, &fakeGateway{}, config.Config{})

	body := `{"taskId":"PROJ-1","userId":"u1","date":"2026-05-04","hours":2}`
	rr := doRequest(server, httptest.NewRequest(http.MethodPost, "/api/bookings", strings.NewReader(body)))
	if rr.Code != http.StatusOK {
		t.Fatalf("degraded upsert must still answer 200, got %d: %s", rr.Code, rr.Body.String())
	}
	response := decodeResponse(t, rr)
	if response["durable"] != false {
		t.Fatalf("expected durable=false, got %v", response)
	}
	if response["warning"] == nil {
		t.Fatal("expected a warning in degraded mode")
	}
	booking, _ := response["booking"].(map[string]any)
	id, _ := booking["id"].(string)
	if !strings.HasPrefix(id, "mem-") {
		t.Fatalf("expected mem- id, got %q", id)
	}

	// The memory-only copy stays visible while the store is down.
	rr = doRequest(server, httptest.NewRequest(http.MethodGet, "/api/bookings", nil))
	response = decodeResponse(t, rr)
	if response["durable"] != false {
		t.Fatalf("expected degraded list, got %v", response)
	}
	bookings, _ := response["bookings"].([]any)
	if len(bookings) != 1 {
		t.Fatalf("memory copy missing: %v", response["bookings"])
	}
}

func TestBookingSummaryDegradedUsesMirror(t *testing.T) {
	fs := newFakePlanStore()
	fs.failing = true
	server := newTestServer(fs, &fakeGateway{}, config.Config{})

	body := `{"taskId":"A-1","userId":"u1","date":"2026-05-04","hours":2}`
	rr := doRequest(server, httptest.NewRequest(http.MethodPost, "/api/bookings", strings.NewReader(body)))
	if rr.Code != http.StatusOK {
		t.Fatalf("degraded upsert must still answer 200, got %d: %s", rr.Code, rr.Body.String())
	}

	// The summary is computed over the same mirror the bookings list serves.
	rr = doRequest(server, httptest.NewRequest(http.MethodGet, "/api/bookings/summary?groupBy=user", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	response := decodeResponse(t, rr)
	if response["durable"] != false {
		t.Fatalf("expected durable=false, got %v", response)
	}
	if response["warning"] == nil {
		t.Fatal("expected a warning in degraded mode")
	}
	summary, _ := response["summary"].(map[string]any)
	if summary["u1"] != float64(2) {
		t.Fatalf("summary must cover the memory-only booking: %v", response["summary"])
	}
}

func TestBookingDelete(t *testing.T) {
	fs := newFakePlanStore()
	server := newTestServer(fs, &fakeGateway{}, config.Config{})

	body := `{"taskId":"PROJ-1","userId":"u1","date":"2026-05-04","hours":2}`
	rr := doRequest(server, httptest.NewRequest(http.MethodPost, "/api/bookings", strings.NewReader(body)))
	response := decodeResponse(t, rr)
	booking, _ := response["booking"].(map[string]any)
	id, _ := booking["id"].(string)

	rr = doRequest(server, httptest.NewRequest(http.MethodDelete, "/api/bookings/"+id, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = doRequest(server, httptest.NewRequest(http.MethodDelete, "/api/bookings/"+id, nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for double delete, got %d", rr.Code)
	}
}

func TestBookingSummary(t *testing.T) {
	fs := newFakePlanStore()
	server := newTestServer(fs, &fakeGateway{}, config.Config{})

	rows := []string{
		`{"taskId":"A-1","userId":"u1","date":"2026-05-04","hours":3}`,
		`{"taskId":"A-2","userId":"u2","date":"2026-05-04","hours":2}`,
		`{"taskId":"B-1","userId":"u1","date":"2026-05-04","hours":4}`,
	}
	for _, row := range rows {
		rr := doRequest(server, httptest.NewRequest(http.MethodPost, "/api/bookings", strings.NewReader(row)))
		if rr.Code != http.StatusOK {
			t.Fatalf("seed booking: %d: %s", rr.Code, rr.Body.String())
		}
	}

	rr := doRequest(server, httptest.NewRequest(http.MethodGet, "/api/bookings/summary?groupBy=project", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	response := decodeResponse(t, rr)
	summary, _ := response["summary"].(map[string]any)
	if summary["A"] != float64(5) || summary["B"] != float64(4) {
		t.Fatalf("summary = %v", summary)
	}

	rr = doRequest(server, httptest.NewRequest(http.MethodGet, "/api/bookings/summary?groupBy=sprint", nil))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown groupBy, got %d", rr.Code)
	}
}

func TestAssignmentUpsertAndList(t *testing.T) {
	fs := newFakePlanStore()
	server := newTestServer(fs, &fakeGateway{}, config.Config{})

	body := `{"taskId":"PROJ-1","plannedAssigneeId":"u1"}`
	rr := doRequest(server, httptest.NewRequest(http.MethodPost, "/api/planning-assignments", strings.NewReader(body)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	// Re-planning the same task replaces the assignee.
	body = `{"taskId":"PROJ-1","plannedAssigneeId":"u2"}`
	rr = doRequest(server, httptest.NewRequest(http.MethodPost, "/api/planning-assignments", strings.NewReader(body)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = doRequest(server, httptest.NewRequest(http.MethodGet, "/api/planning-assignments?taskId=PROJ-1", nil))
	response := decodeResponse(t, rr)
	assignments, _ := response["assignments"].([]any)
	if len(assignments) != 1 {
		t.Fatalf("expected 1 assignment, got %v", response["assignments"])
	}
	row, _ := assignments[0].(map[string]any)
	if row["plannedAssigneeId"] != "u2" {
		t.Fatalf("last write did not win: %v", row)
	}
}

func TestAssignmentValidation(t *testing.T) {
	server := newTestServer(newFakePlanStore(), &fakeGateway{}, config.Config{})

	rr := doRequest(server, httptest.NewRequest(http.MethodPost, "/api/planning-assignments", strings.NewReader(`{"taskId":"PROJ-1"}`)))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
}

func TestExportWithoutExporter(t *testing.T) {
	server := newTestServer(newFakePlanStore(), &fakeGateway{}, config.Config{})

	rr := doRequest(server, httptest.NewRequest(http.MethodGet, "/api/export/allocation?start=2026-05-04", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if response := decodeResponse(t, rr); response["code"] != "EXPORT_UNAVAILABLE" {
		t.Fatalf("code = %v", response["code"])
	}
}

func TestUnknownRoute(t *testing.T) {
	server := newTestServer(newFakePlanStore(), &fakeGateway{}, config.Config{})
	rr := doRequest(server, httptest.NewRequest(http.MethodGet, "/api/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
