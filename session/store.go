package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/AnTengye/contractrisk/config"
	"github.com/AnTengye/contractrisk/model"
	"github.com/AnTengye/contractrisk/service"
	"github.com/facebookgo/clock"
	"github.com/google/uuid"
)

// Store is an in-memory registry of live sessions.
// Sessions removed from the store are torn down.
type Store struct {
	sessions    map[string]*Session
	mu          sync.RWMutex
	maxSessions int // 0 = unlimited
	idleTTL     time.Duration
	stage       service.FileStage
	options     Options
}

func NewStore(cfg *config.SessionConfig, stage service.FileStage, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.New()
	}
	maxSessions := cfg.MaxSessions
	if maxSessions < 0 {
		maxSessions = 0
	}
	slog.Info("session store initialized", "max_sessions", maxSessions, "idle_ttl", cfg.IdleTTL)
	return &Store{
		sessions:    make(map[string]*Session),
		maxSessions: maxSessions,
		idleTTL:     cfg.IdleTTL,
		stage:       stage,
		options: Options{
			Clock:            clk,
			ProgressInterval: cfg.ProgressInterval,
			RedirectDelay:    cfg.RedirectDelay,
		},
	}
}

// Create starts a new session for owner and registers it
func (s *Store) Create(ctx context.Context, owner string, client AnalysisService, persona model.Persona) *Session {
	sess := New(ctx, uuid.New().String(), owner, client, s.stage, persona, s.options)
	s.Save(sess)
	slog.Info("session created", "session_id", sess.ID, "owner", owner, "persona", sess.Persona())
	return sess
}

func (s *Store) Save(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.sessions[sess.ID]; ok && old != sess {
		old.Close()
	}
	s.sessions[sess.ID] = sess
	s.cleanupIfNeeded()
}

func (s *Store) Get(id string) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

func (s *Store) GetByOwner(owner string) []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Session
	for _, sess := range s.sessions {
		if sess.Owner == owner {
			result = append(result, sess)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// Delete removes and tears down a session
func (s *Store) Delete(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok {
		sess.Close()
	}
}

// Sweep tears down sessions idle for longer than the configured TTL
func (s *Store) Sweep() int {
	if s.idleTTL <= 0 {
		return 0
	}
	cutoff := s.options.Clock.Now().Add(-s.idleTTL)

	s.mu.Lock()
	var expired []*Session
	for id, sess := range s.sessions {
		if sess.LastSeen().Before(cutoff) {
			expired = append(expired, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		slog.Info("expiring idle session", "session_id", sess.ID, "last_seen", sess.LastSeen())
		sess.Close()
	}
	return len(expired)
}

// RunSweeper sweeps every interval until ctx is done
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := s.options.Clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				slog.Info("swept idle sessions", "count", n)
			}
		}
	}
}

// CloseAll tears down every session
func (s *Store) CloseAll() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.Close()
	}
}

// cleanupIfNeeded tears down the oldest sessions if the store exceeds maxSessions
// Must be called with lock held
func (s *Store) cleanupIfNeeded() {
	if s.maxSessions <= 0 || len(s.sessions) <= s.maxSessions {
		return
	}

	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})

	removeCount := len(sessions) - s.maxSessions
	for i := 0; i < removeCount; i++ {
		slog.Info("evicting old session",
			"session_id", sessions[i].ID,
			"created_at", sessions[i].CreatedAt,
		)
		delete(s.sessions, sessions[i].ID)
		sessions[i].Close()
	}
}

// Count returns the number of live sessions
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
