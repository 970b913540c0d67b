package session

import (
	"errors"
	"fmt"

	"github.com/AnTengye/contractrisk/model"
	"github.com/AnTengye/contractrisk/service"
)

// Phase is the step of the upload workflow
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseFileSelected Phase = "file-selected"
	PhaseUploading    Phase = "uploading"
	PhaseSucceeded    Phase = "succeeded"
	PhaseFailed       Phase = "failed"
)

// Progress advances a fixed share of the remaining distance to the ceiling on every
// tick, so it never gets there. Only success sets 100.
const (
	progressCeiling = 95.0
	progressStep    = 0.2
	progressDone    = 100.0
)

// ErrSessionClosed is returned for user actions on a torn down session
var ErrSessionClosed = errors.New("session closed")

// TransitionError reports an action that is not valid in the current phase
type TransitionError struct {
	From   Phase
	Action string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s while %s", e.Action, e.From)
}

// FileInfo describes the selected document
type FileInfo struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	SizeLabel   string `json:"size_label"`
	ContentType string `json:"content_type"`
	StageKey    string `json:"-"`
}

// UploadState is a snapshot of one document's upload workflow
type UploadState struct {
	Phase          Phase                   `json:"phase"`
	File           *FileInfo               `json:"file,omitempty"`
	Progress       float64                 `json:"progress"`
	Error          string                  `json:"error,omitempty"`
	ErrorKind      service.ErrorKind       `json:"error_kind,omitempty"`
	Analysis       *model.DocumentAnalysis `json:"-"`
	DashboardReady bool                    `json:"dashboard_ready"`
	Attempt        uint64                  `json:"attempt"`
	Closed         bool                    `json:"closed,omitempty"`
}

// Event is an input to the upload machine
type Event interface{ isEvent() }

type (
	SelectFile      struct{ File FileInfo }
	BeginUpload     struct{}
	Retry           struct{}
	ProgressTick    struct{ Attempt uint64 }
	UploadSucceeded struct {
		Attempt  uint64
		Analysis *model.DocumentAnalysis
	}
	UploadFailed struct {
		Attempt uint64
		Err     error
	}
	RedirectDue struct{ Attempt uint64 }
	Teardown    struct{}
)

func (SelectFile) isEvent()      {}
func (BeginUpload) isEvent()     {}
func (Retry) isEvent()           {}
func (ProgressTick) isEvent()    {}
func (UploadSucceeded) isEvent() {}
func (UploadFailed) isEvent()    {}
func (RedirectDue) isEvent()     {}
func (Teardown) isEvent()        {}

// Command is a side effect the machine asks its runner to perform
type Command interface{ isCommand() }

type (
	StartUpload struct {
		Attempt uint64
		File    FileInfo
	}
	ScheduleTick     struct{ Attempt uint64 }
	ScheduleRedirect struct{ Attempt uint64 }
	CancelUpload     struct{ Attempt uint64 }
	ReleaseFile      struct{ File FileInfo }
	OpenDashboard    struct{ Analysis *model.DocumentAnalysis }
)

func (StartUpload) isCommand()      {}
func (ScheduleTick) isCommand()     {}
func (ScheduleRedirect) isCommand() {}
func (CancelUpload) isCommand()     {}
func (ReleaseFile) isCommand()      {}
func (OpenDashboard) isCommand()    {}

// Apply computes the next state for ev. Results of async work that belong to an older
// attempt, or arrive after teardown, leave the state untouched and return no error.
func (s UploadState) Apply(ev Event) (UploadState, []Command, error) {
	if s.Closed {
		switch ev.(type) {
		case SelectFile, BeginUpload, Retry:
			return s, nil, ErrSessionClosed
		}
		return s, nil, nil
	}

	switch e := ev.(type) {
	case SelectFile:
		if s.Phase == PhaseUploading {
			return s, nil, &TransitionError{From: s.Phase, Action: "select a file"}
		}
		if err := service.ValidateFile(e.File.Name, e.File.Size); err != nil {
			return s, nil, err
		}
		var cmds []Command
		if s.File != nil && s.File.StageKey != e.File.StageKey {
			cmds = append(cmds, ReleaseFile{File: *s.File})
		}
		f := e.File
		return UploadState{Phase: PhaseFileSelected, File: &f, Attempt: s.Attempt}, cmds, nil

	case BeginUpload:
		if s.Phase != PhaseFileSelected {
			return s, nil, &TransitionError{From: s.Phase, Action: "start an upload"}
		}
		next := s
		next.Phase = PhaseUploading
		next.Progress = 0
		next.Attempt++
		return next, []Command{
			StartUpload{Attempt: next.Attempt, File: *s.File},
			ScheduleTick{Attempt: next.Attempt},
		}, nil

	case Retry:
		if s.Phase != PhaseFailed {
			return s, nil, &TransitionError{From: s.Phase, Action: "retry"}
		}
		next := s
		next.Phase = PhaseFileSelected
		next.Error = ""
		next.ErrorKind = ""
		next.Progress = 0
		return next, nil, nil

	case ProgressTick:
		if s.stale(e.Attempt) {
			return s, nil, nil
		}
		next := s
		next.Progress = advanceProgress(s.Progress)
		return next, []Command{ScheduleTick{Attempt: s.Attempt}}, nil

	case UploadSucceeded:
		if s.stale(e.Attempt) {
			return s, nil, nil
		}
		next := s
		next.Phase = PhaseSucceeded
		next.Progress = progressDone
		next.Analysis = e.Analysis
		return next, []Command{
			ScheduleRedirect{Attempt: s.Attempt},
			ReleaseFile{File: *s.File},
		}, nil

	case UploadFailed:
		if s.stale(e.Attempt) {
			return s, nil, nil
		}
		next := s
		next.Phase = PhaseFailed
		next.Progress = 0
		next.Error = service.UserMessage(e.Err)
		next.ErrorKind = service.ClassifyError(e.Err)
		return next, nil, nil

	case RedirectDue:
		if s.Phase != PhaseSucceeded || e.Attempt != s.Attempt || s.DashboardReady {
			return s, nil, nil
		}
		next := s
		next.DashboardReady = true
		return next, []Command{OpenDashboard{Analysis: s.Analysis}}, nil

	case Teardown:
		next := s
		next.Closed = true
		var cmds []Command
		if s.Phase == PhaseUploading {
			cmds = append(cmds, CancelUpload{Attempt: s.Attempt})
		}
		if s.File != nil {
			cmds = append(cmds, ReleaseFile{File: *s.File})
		}
		return next, cmds, nil
	}

	return s, nil, fmt.Errorf("unknown event %T", ev)
}

// ProgressPercent is the whole-number progress shown to the user
func (s UploadState) ProgressPercent() int {
	return int(s.Progress)
}

func (s UploadState) stale(attempt uint64) bool {
	return s.Phase != PhaseUploading || attempt != s.Attempt
}

func advanceProgress(p float64) float64 {
	if p >= progressCeiling {
		return p
	}
	return p + (progressCeiling-p)*progressStep
}
