package session

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/AnTengye/contractrisk/model"
	"github.com/AnTengye/contractrisk/pkg/logger"
	"github.com/AnTengye/contractrisk/service"
	"github.com/facebookgo/clock"
)

// AnalysisService is everything a session needs from the analysis service
type AnalysisService interface {
	Uploader
	CounterOfferRequester
	AnalysisFetcher
}

// Screen names the screen a session is on
type Screen string

const (
	ScreenUpload    Screen = "upload"
	ScreenDashboard Screen = "dashboard"
)

// Options configures new sessions
type Options struct {
	Clock            clock.Clock
	ProgressInterval time.Duration
	RedirectDelay    time.Duration
}

// Snapshot is the externally visible state of a session
type Snapshot struct {
	ID           string        `json:"id"`
	Owner        string        `json:"owner"`
	Persona      model.Persona `json:"persona"`
	View         Screen        `json:"view"`
	Upload       UploadState   `json:"upload"`
	HasDashboard bool          `json:"has_dashboard"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Session is one user's workflow: selecting and uploading a document, then reviewing
// its analysis. The client it holds is already bound to the owner's credentials.
type Session struct {
	ID        string
	Owner     string
	CreatedAt time.Time

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	clock     clock.Clock
	lastSeen  time.Time
	persona   model.Persona
	client    AnalysisService
	upload    *UploadSession
	tracker   *NegotiationTracker
	dashboard *Dashboard
	// linked is set when the dashboard was opened by document id instead of an upload
	linked    bool
	closed    bool
}

// New creates a session for owner. ctx carries logging attributes for the lifetime of
// the session and must not be a request context.
func New(ctx context.Context, id, owner string, client AnalysisService, stage service.FileStage, persona model.Persona, opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if persona == "" {
		persona = model.DefaultPersona
	}
	ctx = logger.With(ctx, logger.SessionKey, id)
	ctx = logger.With(ctx, logger.UsernameKey, owner)
	ctx, cancel := context.WithCancel(ctx)

	now := opts.Clock.Now()
	s := &Session{
		ID:        id,
		Owner:     owner,
		CreatedAt: now,
		ctx:       ctx,
		cancel:    cancel,
		clock:     opts.Clock,
		lastSeen:  now,
		persona:   persona,
		client:    client,
		tracker:   NewNegotiationTracker(ctx, client),
	}
	s.upload = NewUploadSession(ctx, client, stage, UploadOptions{
		Clock:            opts.Clock,
		ProgressInterval: opts.ProgressInterval,
		RedirectDelay:    opts.RedirectDelay,
		StagePrefix:      id,
		Persona:          persona,
		OnDashboard: func(a *model.DocumentAnalysis) {
			s.openDashboard(a, false)
		},
	})
	return s
}

// Upload returns the upload workflow
func (s *Session) Upload() *UploadSession {
	return s.upload
}

// Tracker returns the counter-offer tracker
func (s *Session) Tracker() *NegotiationTracker {
	return s.tracker
}

// Dashboard returns the dashboard of the latest successful upload
func (s *Session) Dashboard() (*Dashboard, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dashboard, s.dashboard != nil
}

// Persona returns the selected persona
func (s *Session) Persona() model.Persona {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persona
}

// SetPersona changes the persona for the next upload and revalidates the dashboard.
// It reports whether a revalidation was started.
func (s *Session) SetPersona(p model.Persona) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.persona = p
	dashboard := s.dashboard
	s.mu.Unlock()

	s.upload.SetPersona(p)
	if dashboard == nil {
		return false
	}
	return dashboard.SetPersona(p)
}

// Snapshot returns the session state
func (s *Session) Snapshot() Snapshot {
	state := s.upload.State()

	s.mu.Lock()
	defer s.mu.Unlock()
	view := ScreenUpload
	if s.dashboard != nil && (state.DashboardReady || (s.linked && state.Phase == PhaseIdle)) {
		view = ScreenDashboard
	}
	return Snapshot{
		ID:           s.ID,
		Owner:        s.Owner,
		Persona:      s.persona,
		View:         view,
		Upload:       state,
		HasDashboard: s.dashboard != nil,
		CreatedAt:    s.CreatedAt,
	}
}

// Touch marks the session as used now
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = s.clock.Now()
}

// LastSeen returns when the session was last used
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Closed reports whether the session was torn down
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close tears down the whole workflow. Calls in flight are canceled and their results
// dropped; staged files are released.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	dashboard := s.dashboard
	s.mu.Unlock()

	s.upload.Close()
	s.tracker.Close()
	if dashboard != nil {
		dashboard.Close()
	}
	s.cancel()
	logger.Info(s.ctx, "session closed")
}

// OpenDocument shows the dashboard for an analysis the service already holds,
// weighted for the current persona. It stays on screen until a file is selected.
func (s *Session) OpenDocument(ctx context.Context, documentID string) (*Dashboard, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, &service.ValidationError{Field: "document", Message: "No document provided"}
	}
	s.mu.Lock()
	closed, persona := s.closed, s.persona
	s.mu.Unlock()
	if closed {
		return nil, ErrSessionClosed
	}

	analysis, err := s.client.FetchAnalysis(ctx, documentID, persona)
	if err != nil {
		return nil, err
	}
	if analysis.ID != documentID {
		logger.Warn(s.ctx, "fetched analysis for another document", "requested", documentID, "got", analysis.ID)
		return nil, &service.ServiceError{Op: "fetch analysis", Status: http.StatusBadGateway, Message: "Server error occurred"}
	}

	dashboard := s.openDashboard(analysis, true)
	if dashboard == nil {
		return nil, ErrSessionClosed
	}
	return dashboard, nil
}

func (s *Session) openDashboard(analysis *model.DocumentAnalysis, linked bool) *Dashboard {
	if analysis == nil {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	previous := s.dashboard
	dashboard := NewDashboard(s.ctx, analysis, s.persona, s.client, s.tracker)
	s.dashboard = dashboard
	s.linked = linked
	s.mu.Unlock()

	if previous != nil {
		previous.Close()
	}
	logger.Info(s.ctx, "dashboard opened", "document_id", analysis.ID, "clauses", len(analysis.Clauses), "linked", linked)
	return dashboard
}

func (s *Session) wait() {
	s.upload.wait()
	s.tracker.wait()
	if d, ok := s.Dashboard(); ok {
		d.wait()
	}
}
