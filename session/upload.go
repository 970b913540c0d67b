package session

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/AnTengye/contractrisk/model"
	"github.com/AnTengye/contractrisk/pkg/logger"
	"github.com/AnTengye/contractrisk/service"
	"github.com/facebookgo/clock"
	"github.com/google/uuid"
)

// Uploader submits a document for analysis
type Uploader interface {
	Upload(ctx context.Context, req service.UploadRequest) (*model.DocumentAnalysis, error)
}

// UploadOptions configures the timing of an upload session
type UploadOptions struct {
	Clock            clock.Clock
	ProgressInterval time.Duration
	RedirectDelay    time.Duration
	// StagePrefix namespaces staged files
	StagePrefix string
	Persona     model.Persona
	// OnDashboard runs once the redirect delay after a success has passed
	OnDashboard func(*model.DocumentAnalysis)
}

// UploadSession runs the upload state machine. It executes the machine's commands
// against the staging store, the analysis service and the clock.
type UploadSession struct {
	mu      sync.Mutex
	state   UploadState
	persona model.Persona
	cancels map[uint64]context.CancelFunc

	ctx              context.Context
	uploader         Uploader
	stage            service.FileStage
	clock            clock.Clock
	progressInterval time.Duration
	redirectDelay    time.Duration
	stagePrefix      string
	onDashboard      func(*model.DocumentAnalysis)

	inflight sync.WaitGroup
}

func NewUploadSession(ctx context.Context, uploader Uploader, stage service.FileStage, opts UploadOptions) *UploadSession {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = 200 * time.Millisecond
	}
	if opts.Persona == "" {
		opts.Persona = model.DefaultPersona
	}
	return &UploadSession{
		state:            UploadState{Phase: PhaseIdle},
		persona:          opts.Persona,
		cancels:          make(map[uint64]context.CancelFunc),
		ctx:              ctx,
		uploader:         uploader,
		stage:            stage,
		clock:            opts.Clock,
		progressInterval: opts.ProgressInterval,
		redirectDelay:    opts.RedirectDelay,
		stagePrefix:      opts.StagePrefix,
		onDashboard:      opts.OnDashboard,
	}
}

// SelectFile validates and stages a document. An invalid file leaves the
// current state untouched and nothing is sent to the analysis service.
func (u *UploadSession) SelectFile(ctx context.Context, name string, size int64, r io.Reader) (UploadState, error) {
	if err := service.ValidateFile(name, size); err != nil {
		return u.State(), err
	}
	if current := u.State(); current.Closed {
		return current, ErrSessionClosed
	} else if current.Phase == PhaseUploading {
		return current, &TransitionError{From: current.Phase, Action: "select a file"}
	}

	base := filepath.Base(name)
	file := FileInfo{
		Name:        base,
		Size:        size,
		SizeLabel:   service.FormatFileSize(size),
		ContentType: service.ContentTypeFor(base),
		StageKey:    u.stageKey(base),
	}
	if err := u.stage.Put(ctx, file.StageKey, r, size, file.ContentType); err != nil {
		return u.State(), fmt.Errorf("failed to stage file: %w", err)
	}

	state, err := u.dispatch(SelectFile{File: file})
	if err != nil {
		u.release(file)
	}
	return state, err
}

// Begin starts uploading the selected file
func (u *UploadSession) Begin() (UploadState, error) {
	return u.dispatch(BeginUpload{})
}

// Retry restarts a failed upload with the same file
func (u *UploadSession) Retry() (UploadState, error) {
	if _, err := u.dispatch(Retry{}); err != nil {
		return u.State(), err
	}
	return u.dispatch(BeginUpload{})
}

// SetPersona changes the persona sent with the next upload
func (u *UploadSession) SetPersona(p model.Persona) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.persona = p
}

// State returns a snapshot of the workflow
func (u *UploadSession) State() UploadState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// Close cancels the in-flight upload, stops further ticks and releases the staged file.
// Results arriving afterwards are dropped.
func (u *UploadSession) Close() {
	u.dispatch(Teardown{})
}

func (u *UploadSession) dispatch(ev Event) (UploadState, error) {
	u.mu.Lock()
	prev := u.state
	next, cmds, err := prev.Apply(ev)
	if err != nil {
		u.mu.Unlock()
		return prev, err
	}
	u.state = next
	// timers are registered before anyone can observe the new state
	rest := make([]Command, 0, len(cmds))
	for _, cmd := range cmds {
		if !u.schedule(cmd) {
			rest = append(rest, cmd)
		}
	}
	u.mu.Unlock()

	if prev.Phase != next.Phase {
		logger.Info(u.ctx, "upload phase changed", "from", prev.Phase, "to", next.Phase, "attempt", next.Attempt)
	}
	for _, cmd := range rest {
		u.exec(cmd)
	}
	return next, nil
}

// schedule arms the timer for a timer command and reports whether cmd was one.
// Must be called with lock held; the callbacks take the lock themselves.
func (u *UploadSession) schedule(cmd Command) bool {
	switch c := cmd.(type) {
	case ScheduleTick:
		u.clock.AfterFunc(u.progressInterval, func() {
			u.dispatch(ProgressTick{Attempt: c.Attempt})
		})
	case ScheduleRedirect:
		u.clock.AfterFunc(u.redirectDelay, func() {
			u.dispatch(RedirectDue{Attempt: c.Attempt})
		})
	default:
		return false
	}
	return true
}

func (u *UploadSession) exec(cmd Command) {
	switch c := cmd.(type) {
	case StartUpload:
		u.start(c)
	case CancelUpload:
		u.mu.Lock()
		cancel := u.cancels[c.Attempt]
		u.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	case ReleaseFile:
		u.release(c.File)
	case OpenDashboard:
		if u.onDashboard != nil {
			u.onDashboard(c.Analysis)
		}
	}
}

func (u *UploadSession) start(c StartUpload) {
	ctx, cancel := context.WithCancel(u.ctx)

	u.mu.Lock()
	persona := u.persona
	// Teardown may have run between Apply and here
	if u.state.Closed || u.state.Attempt != c.Attempt {
		u.mu.Unlock()
		cancel()
		return
	}
	u.cancels[c.Attempt] = cancel
	u.mu.Unlock()

	u.inflight.Add(1)
	go func() {
		defer u.inflight.Done()
		defer cancel()

		analysis, err := u.upload(ctx, c.File, persona)

		u.mu.Lock()
		delete(u.cancels, c.Attempt)
		u.mu.Unlock()

		if err != nil {
			logger.Warn(u.ctx, "upload failed", "attempt", c.Attempt, "file", c.File.Name, "error", err)
			u.dispatch(UploadFailed{Attempt: c.Attempt, Err: err})
			return
		}
		logger.Info(u.ctx, "upload completed", "attempt", c.Attempt, "document_id", analysis.ID)
		u.dispatch(UploadSucceeded{Attempt: c.Attempt, Analysis: analysis})
	}()
}

func (u *UploadSession) upload(ctx context.Context, file FileInfo, persona model.Persona) (*model.DocumentAnalysis, error) {
	rc, err := u.stage.Open(ctx, file.StageKey)
	if err != nil {
		return nil, &service.NetworkError{Op: "upload", Err: err}
	}
	defer rc.Close()

	return u.uploader.Upload(ctx, service.UploadRequest{
		Filename: file.Name,
		Size:     file.Size,
		Content:  rc,
		Persona:  persona,
	})
}

func (u *UploadSession) release(file FileInfo) {
	u.inflight.Add(1)
	go func() {
		defer u.inflight.Done()
		if err := u.stage.Delete(context.WithoutCancel(u.ctx), file.StageKey); err != nil {
			logger.Warn(u.ctx, "failed to release staged file", "key", file.StageKey, "error", err)
		}
	}()
}

func (u *UploadSession) stageKey(name string) string {
	key := uuid.New().String() + "/" + name
	if u.stagePrefix != "" {
		key = u.stagePrefix + "/" + key
	}
	return key
}

// wait blocks until background uploads and releases have finished
func (u *UploadSession) wait() {
	u.inflight.Wait()
}
