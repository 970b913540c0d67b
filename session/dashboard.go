package session

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/AnTengye/contractrisk/model"
	"github.com/AnTengye/contractrisk/pkg/logger"
	"github.com/AnTengye/contractrisk/service"
)

// ErrUnknownClause is returned for a clause id that is not part of the analysis
var ErrUnknownClause = errors.New("unknown clause")

// AnalysisFetcher loads analyses and reports for the dashboard
type AnalysisFetcher interface {
	FetchAnalysis(ctx context.Context, documentID string, persona model.Persona) (*model.DocumentAnalysis, error)
	ExportReport(ctx context.Context, documentID string) (*service.Report, error)
}

// Summary is the headline block of the dashboard
type Summary struct {
	OverallScore  int             `json:"overall_score"`
	OverallLevel  model.RiskLevel `json:"overall_level"`
	OverallLabel  string          `json:"overall_label"`
	OverallColor  string          `json:"overall_color"`
	ClauseCount   int             `json:"clause_count"`
	HighRiskCount int             `json:"high_risk_count"`
	CategoryCount int             `json:"category_count"`
}

// ClauseView is a clause as listed on the dashboard
type ClauseView struct {
	model.Clause
	LevelLabel  string      `json:"level_label"`
	Color       string      `json:"color"`
	Negotiation Negotiation `json:"negotiation"`
}

// View is everything the dashboard renders
type View struct {
	DocumentID         string                `json:"document_id"`
	Filename           string                `json:"filename"`
	Persona            model.Persona         `json:"persona"`
	PersonaLabel       string                `json:"persona_label"`
	PersonaDescription string                `json:"persona_description"`
	Summary            Summary               `json:"summary"`
	Categories         []model.CategoryPoint `json:"categories"`
	Clauses            []ClauseView          `json:"clauses"`
	Revalidating       bool                  `json:"revalidating"`
	RevalidateError    string                `json:"revalidate_error,omitempty"`
	Exporting          bool                  `json:"exporting"`
}

// BuildView composes the dashboard for an analysis. Clauses without an entry in
// negotiations are shown as idle.
func BuildView(a *model.DocumentAnalysis, persona model.Persona, negotiations map[string]Negotiation) View {
	overall := model.Bucket(a.OverallRiskScore)
	view := View{
		DocumentID:         a.ID,
		Filename:           a.Filename,
		Persona:            persona,
		PersonaLabel:       persona.Label(),
		PersonaDescription: persona.Description(),
		Summary: Summary{
			OverallScore:  model.ClampScore(a.OverallRiskScore),
			OverallLevel:  overall,
			OverallLabel:  overall.Label(),
			OverallColor:  overall.Color(),
			ClauseCount:   len(a.Clauses),
			CategoryCount: a.RiskCategories.Len(),
		},
		Categories: model.CategorySeries(a.RiskCategories),
		Clauses:    make([]ClauseView, 0, len(a.Clauses)),
	}

	for _, c := range SortClauses(a.Clauses) {
		if c.RiskLevel.IsSevere() {
			view.Summary.HighRiskCount++
		}
		n, ok := negotiations[c.ID]
		if !ok {
			n = Negotiation{Status: NegotiationIdle}
		}
		view.Clauses = append(view.Clauses, ClauseView{
			Clause:      c,
			LevelLabel:  c.RiskLevel.Label(),
			Color:       c.RiskLevel.Color(),
			Negotiation: n,
		})
	}
	return view
}

// SortClauses returns the clauses by descending score. Equal scores keep their order.
func SortClauses(clauses []model.Clause) []model.Clause {
	sorted := append([]model.Clause(nil), clauses...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RiskScore > sorted[j].RiskScore
	})
	return sorted
}

// ReportFilename is the download name for an exported report
func ReportFilename(filename string) string {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	if base == "" {
		base = "contract"
	}
	return base + "-analysis.pdf"
}

// Dashboard holds the analysis on display and keeps it current when the persona changes
type Dashboard struct {
	mu       sync.Mutex
	ctx      context.Context
	fetcher  AnalysisFetcher
	tracker  *NegotiationTracker
	analysis *model.DocumentAnalysis
	persona  model.Persona
	// applied is the persona the analysis on display was fetched for
	applied  model.Persona

	revalidateSeq    uint64
	revalidating     bool
	revalidateErr    string
	cancelRevalidate context.CancelFunc
	exporting        int
	closed           bool

	inflight sync.WaitGroup
}

func NewDashboard(ctx context.Context, analysis *model.DocumentAnalysis, persona model.Persona, fetcher AnalysisFetcher, tracker *NegotiationTracker) *Dashboard {
	tracker.Bind(analysis.ID)
	return &Dashboard{
		ctx:      logger.With(ctx, logger.DocumentKey, analysis.ID),
		fetcher:  fetcher,
		tracker:  tracker,
		analysis: analysis,
		persona:  persona,
		applied:  persona,
	}
}

// View renders the current analysis with the tracker's negotiation state
func (d *Dashboard) View() View {
	d.mu.Lock()
	analysis, persona := d.analysis, d.persona
	revalidating, revalidateErr, exporting := d.revalidating, d.revalidateErr, d.exporting > 0
	d.mu.Unlock()

	view := BuildView(analysis, persona, d.tracker.Snapshot())
	view.Revalidating = revalidating
	view.RevalidateError = revalidateErr
	view.Exporting = exporting
	return view
}

// Analysis returns the analysis on display
func (d *Dashboard) Analysis() *model.DocumentAnalysis {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.analysis
}

// Persona returns the persona the dashboard is weighted for
func (d *Dashboard) Persona() model.Persona {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.persona
}

// SetPersona re-fetches the analysis for p. The current analysis stays on display
// until the new one arrives; only the latest request is applied. Selecting the
// persona of a failed fetch again retries it.
func (d *Dashboard) SetPersona(p model.Persona) bool {
	d.mu.Lock()
	if d.closed || !d.needsFetch(p) {
		d.mu.Unlock()
		return false
	}
	if d.cancelRevalidate != nil {
		d.cancelRevalidate()
	}
	d.persona = p
	d.revalidateSeq++
	seq := d.revalidateSeq
	d.revalidating = true
	d.revalidateErr = ""
	documentID := d.analysis.ID

	ctx, cancel := context.WithCancel(d.ctx)
	d.cancelRevalidate = cancel
	d.inflight.Add(1)
	d.mu.Unlock()

	logger.Info(ctx, "revalidating analysis", "persona", p)
	go func() {
		defer d.inflight.Done()
		defer cancel()
		analysis, err := d.fetcher.FetchAnalysis(ctx, documentID, p)
		d.revalidated(seq, p, analysis, err)
	}()
	return true
}

// needsFetch must be called with the lock held
func (d *Dashboard) needsFetch(p model.Persona) bool {
	if p != d.persona {
		return true
	}
	if d.revalidating {
		return false
	}
	return p != d.applied || d.revalidateErr != ""
}

func (d *Dashboard) revalidated(seq uint64, persona model.Persona, analysis *model.DocumentAnalysis, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || seq != d.revalidateSeq {
		return
	}
	d.revalidating = false
	d.cancelRevalidate = nil
	if err != nil {
		logger.Warn(d.ctx, "revalidation failed", "persona", d.persona, "error", err)
		d.revalidateErr = service.UserMessage(err)
		return
	}
	if analysis.ID != d.analysis.ID {
		logger.Warn(d.ctx, "revalidation returned another document", "got", analysis.ID)
		d.revalidateErr = "Server error occurred"
		return
	}
	d.analysis = analysis
	d.applied = persona
}

// RequestCounterOffer asks for alternative wording of a clause. It reports false when
// a request for the clause was already in flight.
func (d *Dashboard) RequestCounterOffer(clauseID string) (bool, error) {
	d.mu.Lock()
	_, ok := d.analysis.Clause(clauseID)
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return false, ErrSessionClosed
	}
	if !ok {
		return false, ErrUnknownClause
	}
	return d.tracker.Request(clauseID), nil
}

// Export downloads the rendered report for the analysis together with its file name
func (d *Dashboard) Export(ctx context.Context) (*service.Report, string, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, "", ErrSessionClosed
	}
	d.exporting++
	documentID, filename := d.analysis.ID, d.analysis.Filename
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.exporting--
		d.mu.Unlock()
	}()

	report, err := d.fetcher.ExportReport(ctx, documentID)
	if err != nil {
		return nil, "", err
	}
	return report, ReportFilename(filename), nil
}

// Close drops any pending revalidation
func (d *Dashboard) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	if d.cancelRevalidate != nil {
		d.cancelRevalidate()
		d.cancelRevalidate = nil
	}
	d.revalidating = false
}

func (d *Dashboard) wait() {
	d.inflight.Wait()
}
