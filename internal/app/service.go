// Package app wires the domain packages into one service object and exposes
// them over HTTP.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"planboard/api/internal/authgate"
	"planboard/api/internal/board"
	"planboard/api/internal/boardlog"
	"planboard/api/internal/config"
	"planboard/api/internal/export"
	"planboard/api/internal/jira"
	"planboard/api/internal/planning"
	"planboard/api/internal/search"
	"planboard/api/internal/store"
	"planboard/api/internal/util"
)

// remoteGateway is what the service needs from the tracker client. Tests
// plug in fakes.
type remoteGateway interface {
	ListProjects(ctx context.Context, creds jira.Credentials) ([]jira.Project, error)
	ListStatuses(ctx context.Context, creds jira.Credentials, projectKey string) ([]jira.Status, error)
	SearchIssues(ctx context.Context, creds jira.Credentials, projectKeys []string, since *time.Time) ([]jira.Issue, error)
	TestConnection(ctx context.Context, creds jira.Credentials) (jira.ServerInfo, error)
}

// stateStore persists the board snapshot across restarts. Nil means the
// board runs memory-only.
type stateStore interface {
	Save(ctx context.Context, state board.State) error
	Load(ctx context.Context) (board.State, error)
	Ping(ctx context.Context) error
}

type dbPinger interface {
	Ping(ctx context.Context) error
}

// Deps carries the service dependencies. Gate, Planner and Gateway are
// required; the rest are optional and nil disables the feature.
type Deps struct {
	Gateway  remoteGateway
	Planner  *planning.Reconciler
	Gate     *authgate.Service
	DB       dbPinger
	States   stateStore
	Searcher *search.Service
	Exporter *export.Service
	Audit    *boardlog.Service
}

type Service struct {
	cfg      config.Config
	gateway  remoteGateway
	planner  *planning.Reconciler
	gate     *authgate.Service
	db       dbPinger
	states   stateStore
	searcher *search.Service
	exporter *export.Service
	audit    *boardlog.Service

	mirror *board.Mirror

	boardMu          sync.RWMutex
	selectedProjects []jira.Project
	columns          []board.Column
	useManualCreds   bool
}

func NewService(cfg config.Config, deps Deps) *Service {
	searcher := deps.Searcher
	if searcher == nil {
		searcher = search.NewService(nil)
	}
	return &Service{
		cfg:      cfg,
		gateway:  deps.Gateway,
		planner:  deps.Planner,
		gate:     deps.Gate,
		db:       deps.DB,
		states:   deps.States,
		searcher: searcher,
		exporter: deps.Exporter,
		audit:    deps.Audit,
		mirror:   board.NewMirror(),
	}
}

func (s *Service) Gate() *authgate.Service { return s.gate }

// Ping checks the durable store.
func (s *Service) Ping(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not configured")
	}
	return s.db.Ping(ctx)
}

// PingState checks the snapshot store; nil when no snapshot store exists.
func (s *Service) PingState(ctx context.Context) error {
	if s.states == nil {
		return nil
	}
	return s.states.Ping(ctx)
}

// RestoreState rehydrates board configuration and mirror from the snapshot
// store. Called once at startup; a missing snapshot is not an error.
func (s *Service) RestoreState(ctx context.Context) error {
	if s.states == nil {
		return nil
	}
	state, err := s.states.Load(ctx)
	if err != nil {
		if err == board.ErrNoState {
			return nil
		}
		return err
	}
	s.boardMu.Lock()
	s.selectedProjects = state.SelectedProjects
	s.columns = state.Columns
	s.useManualCreds = state.UseManualCredentials
	s.boardMu.Unlock()
	s.mirror.Restore(state.Issues, state.LastSyncTime)
	s.searcher.IndexIssues(state.Issues)
	log.Printf("app: restored board state: %d projects, %d columns, %d issues",
		len(state.SelectedProjects), len(state.Columns), len(state.Issues))
	return nil
}

// saveState writes the current snapshot after a mutating board operation.
// Persistence failures are logged, never surfaced: the in-memory board is
// still correct.
func (s *Service) saveState(ctx context.Context) {
	if s.states == nil {
		return
	}
	s.boardMu.RLock()
	state := board.State{
		SelectedProjects:     s.selectedProjects,
		Columns:              s.columns,
		UseManualCredentials: s.useManualCreds,
	}
	s.boardMu.RUnlock()
	state.Issues = s.mirror.Issues()
	state.LastSyncTime = s.mirror.Cursor()
	if err := s.states.Save(ctx, state); err != nil {
		log.Printf("app: save board state: %v", err)
	}
}

// --- Remote tracker operations ---

func (s *Service) TestConnection(ctx context.Context, body []byte) (jira.ServerInfo, string, error) {
	creds, err := jira.ResolveCredentials(body, s.cfg)
	if err != nil {
		return jira.ServerInfo{}, "", err
	}
	info, err := s.gateway.TestConnection(ctx, creds)
	if err != nil {
		return jira.ServerInfo{}, creds.Source, err
	}
	return info, creds.Source, nil
}

func (s *Service) ListProjects(ctx context.Context, body []byte) ([]jira.Project, string, error) {
	creds, err := jira.ResolveCredentials(body, s.cfg)
	if err != nil {
		return nil, "", err
	}
	projects, err := s.gateway.ListProjects(ctx, creds)
	if err != nil {
		return nil, creds.Source, err
	}
	return projects, creds.Source, nil
}

func (s *Service) ListStatuses(ctx context.Context, body []byte, projectKey string) ([]jira.Status, error) {
	if projectKey == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_FAILED", "projectKey is required", nil)
	}
	creds, err := jira.ResolveCredentials(body, s.cfg)
	if err != nil {
		return nil, err
	}
	return s.gateway.ListStatuses(ctx, creds, projectKey)
}

// FetchIssues is the raw search passthrough: it queries the tracker without
// touching the mirror. The board sync cycle is SyncBoard.
func (s *Service) FetchIssues(ctx context.Context, body []byte, projectKeys []string, since *time.Time) ([]jira.Issue, error) {
	if len(projectKeys) == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_FAILED", "projectKeys is required", nil)
	}
	creds, err := jira.ResolveCredentials(body, s.cfg)
	if err != nil {
		return nil, err
	}
	return s.gateway.SearchIssues(ctx, creds, projectKeys, since)
}

// --- Board operations ---

// SyncResult reports one completed sync cycle.
type SyncResult struct {
	Fetched      int        `json:"fetched"`
	Total        int        `json:"total"`
	LastSyncTime *time.Time `json:"lastSyncTime"`
}

// SyncBoard runs a delta sync over the selected projects: fetch issues
// updated since the cursor, merge them into the mirror, then advance the
// cursor to the sync start time. A failed fetch aborts without touching
// mirror or cursor.
func (s *Service) SyncBoard(ctx context.Context, body []byte) (SyncResult, error) {
	s.boardMu.RLock()
	keys := make([]string, 0, len(s.selectedProjects))
	for _, p := range s.selectedProjects {
		keys = append(keys, p.Key)
	}
	s.boardMu.RUnlock()
	if len(keys) == 0 {
		return SyncResult{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_FAILED", "no projects selected", nil)
	}

	creds, err := jira.ResolveCredentials(body, s.cfg)
	if err != nil {
		return SyncResult{}, err
	}

	cursor, err := s.mirror.BeginSync()
	if err != nil {
		return SyncResult{}, err
	}
	// The cursor lands on the moment the fetch began, so issues updated
	// mid-flight are caught again next cycle.
	startedAt := time.Now()

	delta, err := s.gateway.SearchIssues(ctx, creds, keys, cursor)
	if err != nil {
		s.mirror.AbortSync()
		return SyncResult{}, err
	}

	s.mirror.CompleteSync(delta, startedAt)
	issues := s.mirror.Issues()
	s.searcher.IndexIssues(issues)
	s.saveState(ctx)

	return SyncResult{
		Fetched:      len(delta),
		Total:        len(issues),
		LastSyncTime: s.mirror.Cursor(),
	}, nil
}

// BoardState returns the full snapshot for the dashboard.
func (s *Service) BoardState() board.State {
	s.boardMu.RLock()
	state := board.State{
		SelectedProjects:     s.selectedProjects,
		Columns:              s.columns,
		UseManualCredentials: s.useManualCreds,
	}
	s.boardMu.RUnlock()
	state.Issues = s.mirror.Issues()
	state.LastSyncTime = s.mirror.Cursor()
	if state.SelectedProjects == nil {
		state.SelectedProjects = []jira.Project{}
	}
	if state.Columns == nil {
		state.Columns = []board.Column{}
	}
	return state
}

func (s *Service) Columns() []board.Column {
	s.boardMu.RLock()
	defer s.boardMu.RUnlock()
	return append([]board.Column{}, s.columns...)
}

// SetColumns replaces the column schema with a manual edit. Columns without
// an id get one assigned.
func (s *Service) SetColumns(ctx context.Context, columns []board.Column) ([]board.Column, error) {
	for i := range columns {
		if columns[i].Name == "" {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_FAILED", "column name is required", nil)
		}
		if columns[i].ID == "" {
			columns[i].ID = util.NewID("col")
		}
		if columns[i].StatusIDs == nil {
			columns[i].StatusIDs = []string{}
		}
	}
	s.boardMu.Lock()
	s.columns = columns
	s.boardMu.Unlock()

	s.commitSchema(ctx, "Edit columns")
	s.saveState(ctx)
	return columns, nil
}

// SelectProjects stores the project selection and derives the column schema
// from the statuses of the selected projects: built fresh when no columns
// exist, otherwise new statuses are appended without touching manual edits.
func (s *Service) SelectProjects(ctx context.Context, body []byte, projects []jira.Project) (board.State, int, error) {
	creds, err := jira.ResolveCredentials(body, s.cfg)
	if err != nil {
		return board.State{}, 0, err
	}

	statuses := make([]jira.Status, 0)
	for _, project := range projects {
		projectStatuses, err := s.gateway.ListStatuses(ctx, creds, project.Key)
		if err != nil {
			return board.State{}, 0, err
		}
		statuses = append(statuses, projectStatuses...)
	}

	s.boardMu.Lock()
	s.selectedProjects = projects
	s.useManualCreds = creds.Source != jira.SourceEnvironment
	added := 0
	if len(s.columns) == 0 {
		s.columns = board.BuildColumns(statuses)
		added = len(s.columns)
	} else {
		s.columns, added = board.MergeNewStatuses(s.columns, statuses)
	}
	s.boardMu.Unlock()

	s.commitSchema(ctx, fmt.Sprintf("Select %d projects", len(projects)))
	s.saveState(ctx)
	return s.BoardState(), added, nil
}

func (s *Service) SelectedProjects() []jira.Project {
	s.boardMu.RLock()
	defer s.boardMu.RUnlock()
	return append([]jira.Project{}, s.selectedProjects...)
}

// UnmappedIssues lists mirrored issues no column accepts.
func (s *Service) UnmappedIssues() []jira.Issue {
	s.boardMu.RLock()
	columns := s.columns
	s.boardMu.RUnlock()
	return board.Unmapped(s.mirror.Issues(), columns)
}

// FilteredIssues narrows the mirror: free text goes through the search
// service, the structured fields intersect on top.
func (s *Service) FilteredIssues(filter board.Filter) []jira.Issue {
	issues := s.mirror.Issues()
	if filter.SearchText != "" {
		issues = s.searcher.Search(filter.SearchText, issues)
		filter.SearchText = ""
	}
	return filter.Apply(issues)
}

// EpicGroups buckets the mirror by parent reference.
func (s *Service) EpicGroups() ([]planning.EpicGroup, []jira.Issue) {
	return planning.GroupByEpic(s.mirror.Issues())
}

// SchemaHistory lists recent column-schema commits.
func (s *Service) SchemaHistory(limit int) ([]boardlog.CommitInfo, error) {
	if s.audit == nil {
		return []boardlog.CommitInfo{}, nil
	}
	return s.audit.History(limit)
}

func (s *Service) commitSchema(_ context.Context, message string) {
	if s.audit == nil {
		return
	}
	s.boardMu.RLock()
	snapshot := boardlog.Snapshot{
		SelectedProjects: s.selectedProjects,
		Columns:          s.columns,
	}
	s.boardMu.RUnlock()
	if _, err := s.audit.Commit(snapshot, "planboard", message); err != nil {
		log.Printf("app: commit schema history: %v", err)
	}
}

// --- Planning operations ---

func (s *Service) ListBookings(ctx context.Context, filter store.BookingFilter) ([]store.Booking, error) {
	return s.planner.ListBookings(ctx, filter)
}

func (s *Service) UpsertBooking(ctx context.Context, booking store.Booking) (planning.BookingResult, error) {
	return s.planner.UpsertBooking(ctx, booking)
}

func (s *Service) DeleteBooking(ctx context.Context, id string) (bool, error) {
	return s.planner.DeleteBooking(ctx, id)
}

func (s *Service) BookingSummary(ctx context.Context, filter store.BookingFilter, groupBy string) (map[string]float64, error) {
	bookings, err := s.planner.ListBookings(ctx, filter)
	if err != nil {
		// The degraded slice is the mirror; summarize it like the
		// bookings list does and let the handler attach the warning.
		if errors.Is(err, planning.ErrPersistenceUnavailable) {
			return planning.Summary(bookings, groupBy), err
		}
		return nil, err
	}
	return planning.Summary(bookings, groupBy), nil
}

func (s *Service) ListAssignments(ctx context.Context, taskID string) ([]store.PlanningAssignment, error) {
	return s.planner.ListAssignments(ctx, taskID)
}

func (s *Service) UpsertAssignment(ctx context.Context, assignment store.PlanningAssignment) (planning.AssignmentResult, error) {
	return s.planner.UpsertAssignment(ctx, assignment)
}

// --- Export ---

// ExportAllocation renders the allocation PDF for the week starting at
// start (YYYY-MM-DD).
func (s *Service) ExportAllocation(ctx context.Context, start string) (*export.Result, error) {
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export not configured", nil)
	}
	startDay, err := time.Parse("2006-01-02", start)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_FAILED", "start must be YYYY-MM-DD", nil)
	}
	dates := make([]string, 0, 7)
	for i := 0; i < 7; i++ {
		dates = append(dates, startDay.AddDate(0, 0, i).Format("2006-01-02"))
	}

	bookings, err := s.planner.ListBookings(ctx, store.BookingFilter{
		StartDate: dates[0],
		EndDate:   dates[len(dates)-1],
	})
	if err != nil {
		// The mirror copy is still usable for a report.
		log.Printf("app: allocation export using mirror bookings: %v", err)
	}
	return s.exporter.AllocationReport(ctx, bookings, dates)
}
