package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/AnTengye/contractrisk/model"
	"github.com/AnTengye/contractrisk/service"
)

func sampleAnalysis() *model.DocumentAnalysis {
	return &model.DocumentAnalysis{
		ID:               "doc-1",
		Filename:         "lease-agreement.pdf",
		Status:           model.StatusCompleted,
		OverallRiskScore: 75,
		RiskCategories: model.NewRiskCategories(
			model.CategoryScore{Name: "Financial Risk", Score: 85},
			model.CategoryScore{Name: "Legal Compliance", Score: 60},
			model.CategoryScore{Name: "Termination Risk", Score: 70},
			model.CategoryScore{Name: "Liability", Score: 50},
		),
		Clauses: []model.Clause{
			{ID: "clause-1", Summary: "Standard notice period", RiskLevel: model.RiskLow, RiskScore: 30, Category: "Termination Risk"},
			{ID: "clause-2", Summary: "Unlimited liability", RiskLevel: model.RiskCritical, RiskScore: 95, Category: "Liability"},
			{ID: "clause-3", Summary: "Late fee schedule", RiskLevel: model.RiskMedium, RiskScore: 65, Category: "Financial Risk"},
			{ID: "clause-4", Summary: "Automatic rent increase", RiskLevel: model.RiskHigh, RiskScore: 85, Category: "Financial Risk"},
		},
	}
}

type uploadResult struct {
	analysis *model.DocumentAnalysis
	err      error
}

// fakeService records calls and blocks each operation until the test releases it
// through the matching channel. A nil channel makes the call return immediately.
type fakeService struct {
	mu           sync.Mutex
	uploads      []service.UploadRequest
	uploadBodies []string
	canceled     int
	counterCalls map[string]int
	fetches      []model.Persona
	exports      int

	uploadResults  chan uploadResult
	counterResults map[string]chan uploadResult
	fetchResults   map[model.Persona]chan uploadResult

	analysis *model.DocumentAnalysis
}

func newFakeService() *fakeService {
	return &fakeService{
		counterCalls:   make(map[string]int),
		counterResults: make(map[string]chan uploadResult),
		fetchResults:   make(map[model.Persona]chan uploadResult),
		analysis:       sampleAnalysis(),
	}
}

func (f *fakeService) Upload(ctx context.Context, req service.UploadRequest) (*model.DocumentAnalysis, error) {
	body, _ := io.ReadAll(req.Content)
	f.mu.Lock()
	f.uploads = append(f.uploads, req)
	f.uploadBodies = append(f.uploadBodies, string(body))
	results := f.uploadResults
	f.mu.Unlock()

	if results == nil {
		return f.analysis, nil
	}
	select {
	case r := <-results:
		return r.analysis, r.err
	case <-ctx.Done():
		f.mu.Lock()
		f.canceled++
		f.mu.Unlock()
		return nil, &service.NetworkError{Op: "upload", Err: ctx.Err()}
	}
}

func (f *fakeService) RequestCounterOffer(ctx context.Context, clauseID string) (*model.CounterOffer, error) {
	f.mu.Lock()
	f.counterCalls[clauseID]++
	results := f.counterResults[clauseID]
	f.mu.Unlock()

	if results == nil {
		return &model.CounterOffer{ClauseID: clauseID, SuggestedText: "Revised " + clauseID}, nil
	}
	select {
	case r := <-results:
		if r.err != nil {
			return nil, r.err
		}
		return &model.CounterOffer{ClauseID: clauseID, SuggestedText: "Revised " + clauseID}, nil
	case <-ctx.Done():
		return nil, &service.NetworkError{Op: "counter offer", Err: ctx.Err()}
	}
}

func (f *fakeService) FetchAnalysis(ctx context.Context, documentID string, persona model.Persona) (*model.DocumentAnalysis, error) {
	f.mu.Lock()
	f.fetches = append(f.fetches, persona)
	results := f.fetchResults[persona]
	f.mu.Unlock()

	if results == nil {
		return f.analysis, nil
	}
	select {
	case r := <-results:
		return r.analysis, r.err
	case <-ctx.Done():
		return nil, &service.NetworkError{Op: "fetch analysis", Err: ctx.Err()}
	}
}

func (f *fakeService) ExportReport(_ context.Context, documentID string) (*service.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exports++
	if documentID != f.analysis.ID {
		return nil, &service.ServiceError{Op: "export report", Status: 404, Message: "Document not found"}
	}
	return &service.Report{Data: []byte("%PDF-1.4 report"), ContentType: "application/pdf"}, nil
}

func (f *fakeService) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

func (f *fakeService) canceledCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.canceled
}

func (f *fakeService) counterCount(clauseID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counterCalls[clauseID]
}

func (f *fakeService) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetches)
}

func pdfContent(size int) io.Reader {
	return strings.NewReader(strings.Repeat("x", size))
}

var errServiceDown = &service.ServiceError{Op: "upload", Status: 500, Message: "Analysis engine offline"}

var errBoom = errors.New("boom")
