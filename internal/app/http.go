package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"planboard/api/internal/auth"
	"planboard/api/internal/authgate"
	"planboard/api/internal/board"
	"planboard/api/internal/export"
	"planboard/api/internal/jira"
	"planboard/api/internal/planning"
	"planboard/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	// Session gate routes carry no token themselves.
	if r.Method == http.MethodPost && r.URL.Path == "/api/session/login" {
		s.handleLogin(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		gate := s.service.Gate()
		if gate == nil || !gate.Enabled() {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "gated": false})
			return
		}
		err := gate.Verify(r.Context(), bearerToken(r))
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": err == nil, "gated": true})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		if gate := s.service.Gate(); gate != nil {
			if err := gate.Logout(r.Context(), bearerToken(r)); err != nil {
				log.Printf("http: logout: %v", err)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if !s.requireGate(w, r) {
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/jira/test-connection":
		s.handleTestConnection(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/jira/projects":
		s.handleJiraProjects(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/jira/statuses":
		s.handleJiraStatuses(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/jira/issues":
		s.handleJiraIssues(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/board/sync":
		s.handleBoardSync(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/api/board/state":
		writeJSON(w, http.StatusOK, s.service.BoardState())
	case r.Method == http.MethodGet && r.URL.Path == "/api/board/columns":
		writeJSON(w, http.StatusOK, map[string]any{"columns": s.service.Columns()})
	case r.Method == http.MethodPut && r.URL.Path == "/api/board/columns":
		s.handlePutColumns(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/api/board/projects":
		writeJSON(w, http.StatusOK, map[string]any{"projects": s.service.SelectedProjects()})
	case r.Method == http.MethodPut && r.URL.Path == "/api/board/projects":
		s.handlePutProjects(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/api/board/unmapped":
		writeJSON(w, http.StatusOK, map[string]any{"issues": s.service.UnmappedIssues()})
	case r.Method == http.MethodGet && r.URL.Path == "/api/board/history":
		s.handleHistory(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/api/issues":
		s.handleIssues(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/api/bookings":
		s.handleListBookings(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/bookings":
		s.handleUpsertBooking(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/api/bookings/summary":
		s.handleBookingSummary(w, r)
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/api/bookings/"):
		s.handleDeleteBooking(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/api/planning-assignments":
		s.handleListAssignments(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/planning-assignments":
		s.handleUpsertAssignment(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/api/export/allocation":
		s.handleExportAllocation(w, r)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) requireGate(w http.ResponseWriter, r *http.Request) bool {
	gate := s.service.Gate()
	if gate == nil || !gate.Enabled() {
		return true
	}
	if err := gate.Verify(r.Context(), bearerToken(r)); err != nil {
		if errors.Is(err, authgate.ErrUnauthorized) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return false
	}
	return true
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	}
	if err := s.service.PingState(ctx); err != nil {
		checks["redis"] = map[string]any{"status": "error", "error": err.Error()}
	} else if s.service.states != nil {
		checks["redis"] = map[string]any{"status": "ok"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	gate := s.service.Gate()
	if gate == nil || !gate.Enabled() {
		writeJSON(w, http.StatusOK, map[string]any{"gated": false})
		return
	}
	var body struct {
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	token, err := gate.Login(r.Context(), body.Password)
	if err != nil {
		if errors.Is(err, authgate.ErrUnauthorized) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Wrong password", nil)
			return
		}
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "gated": true})
}

func (s *HTTPServer) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)
	info, source, err := s.service.TestConnection(r.Context(), body)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "serverInfo": info, "credentialSource": source})
}

func (s *HTTPServer) handleJiraProjects(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)
	projects, source, err := s.service.ListProjects(r.Context(), body)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects, "credentialSource": source})
}

func (s *HTTPServer) handleJiraStatuses(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)
	var params struct {
		ProjectKey string `json:"projectKey"`
	}
	_ = json.Unmarshal(body, &params)
	statuses, err := s.service.ListStatuses(r.Context(), body, params.ProjectKey)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"statuses": statuses})
}

func (s *HTTPServer) handleJiraIssues(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)
	var params struct {
		ProjectKeys []string `json:"projectKeys"`
		LastUpdated string   `json:"lastUpdated"`
	}
	_ = json.Unmarshal(body, &params)

	var since *time.Time
	if params.LastUpdated != "" {
		parsed, err := parseSyncTime(params.LastUpdated)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", "lastUpdated must be a timestamp", nil)
			return
		}
		since = &parsed
	}

	issues, err := s.service.FetchIssues(r.Context(), body, params.ProjectKeys, since)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"issues": issues, "total": len(issues)})
}

func (s *HTTPServer) handleBoardSync(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)
	result, err := s.service.SyncBoard(r.Context(), body)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handlePutColumns(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Columns []board.Column `json:"columns"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	columns, err := s.service.SetColumns(r.Context(), body.Columns)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"columns": columns})
}

func (s *HTTPServer) handlePutProjects(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)
	var params struct {
		Projects []jira.Project `json:"projects"`
	}
	_ = json.Unmarshal(body, &params)
	if len(params.Projects) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", "projects is required", nil)
		return
	}
	state, added, err := s.service.SelectProjects(r.Context(), body, params.Projects)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": state, "addedColumns": added})
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", "limit must be an integer", nil)
			return
		}
		limit = parsed
	}
	history, err := s.service.SchemaHistory(limit)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (s *HTTPServer) handleIssues(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if query.Get("groupBy") == "epic" {
		epics, ungrouped := s.service.EpicGroups()
		if epics == nil {
			epics = []planning.EpicGroup{}
		}
		if ungrouped == nil {
			ungrouped = []jira.Issue{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"epics": epics, "ungrouped": ungrouped})
		return
	}

	filter := board.Filter{
		SearchText: strings.TrimSpace(query.Get("search")),
		Assignee:   strings.TrimSpace(query.Get("assignee")),
		Project:    strings.TrimSpace(query.Get("project")),
		IssueType:  strings.TrimSpace(query.Get("type")),
		Priority:   strings.TrimSpace(query.Get("priority")),
	}
	if raw := strings.TrimSpace(query.Get("labels")); raw != "" {
		filter.Labels = strings.Split(raw, ",")
	}
	issues := s.service.FilteredIssues(filter)
	writeJSON(w, http.StatusOK, map[string]any{"issues": issues, "total": len(issues)})
}

func (s *HTTPServer) handleListBookings(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := store.BookingFilter{
		StartDate: query.Get("startDate"),
		EndDate:   query.Get("endDate"),
		TaskID:    query.Get("taskId"),
		UserID:    query.Get("userId"),
	}
	bookings, err := s.service.ListBookings(r.Context(), filter)
	if err != nil {
		// Degraded answer: the previous mirror plus a warning.
		if errors.Is(err, planning.ErrPersistenceUnavailable) {
			writeJSON(w, http.StatusOK, map[string]any{
				"bookings": bookings,
				"durable":  false,
				"warning":  "persistence unavailable; showing in-memory data",
			})
			return
		}
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings, "durable": true})
}

func (s *HTTPServer) handleUpsertBooking(w http.ResponseWriter, r *http.Request) {
	var body store.Booking
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.UpsertBooking(r.Context(), body)
	if err != nil {
		if errors.Is(err, planning.ErrPersistenceUnavailable) {
			writeJSON(w, http.StatusOK, map[string]any{
				"booking": result.Booking,
				"durable": false,
				"warning": "persistence unavailable; change kept in memory only",
			})
			return
		}
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"booking": result.Booking, "durable": true})
}

func (s *HTTPServer) handleBookingSummary(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	groupBy := query.Get("groupBy")
	switch groupBy {
	case "user", "project", "date":
	default:
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", "groupBy must be user, project or date", nil)
		return
	}
	filter := store.BookingFilter{
		StartDate: query.Get("startDate"),
		EndDate:   query.Get("endDate"),
	}
	summary, err := s.service.BookingSummary(r.Context(), filter, groupBy)
	if err != nil {
		if errors.Is(err, planning.ErrPersistenceUnavailable) {
			writeJSON(w, http.StatusOK, map[string]any{
				"summary": summary,
				"groupBy": groupBy,
				"durable": false,
				"warning": "persistence unavailable; summarizing in-memory data",
			})
			return
		}
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": summary, "groupBy": groupBy, "durable": true})
}

func (s *HTTPServer) handleDeleteBooking(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path)
	if len(parts) != 3 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	deleted, err := s.service.DeleteBooking(r.Context(), parts[2])
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Booking not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("taskId")
	assignments, err := s.service.ListAssignments(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, planning.ErrPersistenceUnavailable) {
			writeJSON(w, http.StatusOK, map[string]any{
				"assignments": assignments,
				"durable":     false,
				"warning":     "persistence unavailable; showing in-memory data",
			})
			return
		}
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assignments": assignments, "durable": true})
}

func (s *HTTPServer) handleUpsertAssignment(w http.ResponseWriter, r *http.Request) {
	var body store.PlanningAssignment
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.UpsertAssignment(r.Context(), body)
	if err != nil {
		if errors.Is(err, planning.ErrPersistenceUnavailable) {
			writeJSON(w, http.StatusOK, map[string]any{
				"assignment": result.Assignment,
				"durable":    false,
				"warning":    "persistence unavailable; change kept in memory only",
			})
			return
		}
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assignment": result.Assignment, "durable": true})
}

func (s *HTTPServer) handleExportAllocation(w http.ResponseWriter, r *http.Request) {
	start := strings.TrimSpace(r.URL.Query().Get("start"))
	if start == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", "start is required", nil)
		return
	}
	result, err := s.service.ExportAllocation(r.Context(), start)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// readBody drains the request body; credential resolution and parameter
// decoding both need the raw bytes.
func readBody(r *http.Request) []byte {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil
	}
	return data
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// parseSyncTime accepts both the wire timestamp format and the JQL minute
// form a client may echo back.
func parseSyncTime(raw string) (time.Time, error) {
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed, nil
	}
	return time.Parse("2006-01-02 15:04", raw)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var missingErr *jira.MissingCredentialsError
	if errors.As(err, &missingErr) {
		return http.StatusBadRequest, "MISSING_CREDENTIALS", "Jira credentials are incomplete",
			map[string]any{"missing": missingErr.Missing, "tier": missingErr.Tier}
	}
	var remoteErr *jira.RemoteError
	if errors.As(err, &remoteErr) {
		return http.StatusBadGateway, "REMOTE_FETCH_FAILED", "Remote tracker call failed",
			map[string]any{"status": remoteErr.StatusCode, "body": remoteErr.Body}
	}
	if errors.Is(err, jira.ErrMalformedResponse) {
		return http.StatusBadGateway, "MALFORMED_REMOTE_RESPONSE", "Remote tracker returned an unparseable response", nil
	}
	if errors.Is(err, board.ErrSyncInProgress) {
		return http.StatusConflict, "SYNC_IN_PROGRESS", "A sync is already in progress", nil
	}
	if errors.Is(err, planning.ErrValidation) {
		return http.StatusUnprocessableEntity, "VALIDATION_FAILED", err.Error(), nil
	}
	if errors.Is(err, planning.ErrPersistenceUnavailable) {
		return http.StatusServiceUnavailable, "PERSISTENCE_UNAVAILABLE", "Durable store unavailable", nil
	}
	if errors.Is(err, export.ErrPDFDependencyMissing) {
		return http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF generation requires chromium", nil
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, authgate.ErrUnauthorized) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
