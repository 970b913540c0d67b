package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"time"

	"github.com/AnTengye/contractrisk/config"
	"github.com/AnTengye/contractrisk/model"
	"github.com/AnTengye/contractrisk/pkg/logger"
	"github.com/facebookgo/clock"
	"golang.org/x/sync/errgroup"
)

// AnalysisClient talks to the remote document analysis service.
// Every method returns one of the classified errors in errors.go.
type AnalysisClient struct {
	config     *config.AnalysisConfig
	httpClient *http.Client
	clock      clock.Clock
	token      string
}

// UploadRequest describes the document to submit
type UploadRequest struct {
	Filename string
	Size     int64
	Content  io.Reader
	Persona  model.Persona
}

// Report is a rendered analysis report
type Report struct {
	Data        []byte
	ContentType string
}

func NewAnalysisClient(cfg *config.AnalysisConfig) *AnalysisClient {
	return &AnalysisClient{
		config: cfg,
		// Per-call bounds come from the request context
		httpClient: &http.Client{},
		clock:      clock.New(),
		token:      cfg.APIToken,
	}
}

// WithCredentials returns a client that sends token as a bearer credential
func (c *AnalysisClient) WithCredentials(token string) *AnalysisClient {
	cp := *c
	cp.token = token
	return &cp
}

// WithClock returns a client that waits between polls on clk
func (c *AnalysisClient) WithClock(clk clock.Clock) *AnalysisClient {
	cp := *c
	cp.clock = clk
	return &cp
}

// Upload submits a document and returns its completed analysis. If the service only
// accepts the document for processing, Upload polls until the analysis is done.
// The whole operation is bounded by the upload timeout and never retried.
func (c *AnalysisClient) Upload(ctx context.Context, req UploadRequest) (*model.DocumentAnalysis, error) {
	const op = "upload"
	if err := ValidateFile(req.Filename, req.Size); err != nil {
		return nil, err
	}

	body, contentType, err := buildUploadForm(req)
	if err != nil {
		return nil, err
	}

	bound := c.config.UploadTimeout
	ctx, cancel := context.WithTimeout(ctx, bound)
	defer cancel()

	logger.Info(ctx, "uploading document", "filename", req.Filename, "size", req.Size, "persona", req.Persona)

	data, err := c.do(ctx, op, bound, http.MethodPost, "/upload/", body, contentType)
	if err != nil {
		return nil, err
	}
	analysis, err := decodeAnalysis(op, data)
	if err != nil {
		return nil, err
	}

	if analysis.IsPending() {
		analysis, err = c.waitForAnalysis(ctx, op, bound, analysis.ID)
		if err != nil {
			return nil, err
		}
	}
	if analysis.Status == model.StatusFailed {
		msg := analysis.ErrorMsg
		if msg == "" {
			msg = "Document analysis failed"
		}
		return nil, &ServiceError{Op: op, Status: http.StatusUnprocessableEntity, Message: msg}
	}

	c.finish(ctx, analysis)
	logger.Info(ctx, "document analyzed",
		"document_id", analysis.ID,
		"overall_risk_score", analysis.OverallRiskScore,
		"clauses", len(analysis.Clauses),
	)
	return analysis, nil
}

// FetchAnalysis reads a document analysis. With a persona the persona-scoped risk is
// fetched alongside and replaces the overall score and categories.
func (c *AnalysisClient) FetchAnalysis(ctx context.Context, documentID string, persona model.Persona) (*model.DocumentAnalysis, error) {
	const op = "fetch analysis"
	bound := c.config.RequestTimeout
	ctx, cancel := context.WithTimeout(ctx, bound)
	defer cancel()

	if persona == "" {
		analysis, err := c.getAnalysis(ctx, op, bound, documentID)
		if err != nil {
			return nil, err
		}
		c.finish(ctx, analysis)
		return analysis, nil
	}

	var (
		analysis *model.DocumentAnalysis
		risk     *model.RiskAssessment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		analysis, err = c.getAnalysis(gctx, op, bound, documentID)
		return err
	})
	g.Go(func() error {
		var err error
		risk, err = c.getRisk(gctx, op, bound, documentID, persona)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := analysis.WithRisk(risk)
	c.finish(ctx, out)
	return out, nil
}

// FetchRisk reads the persona-scoped risk payload
func (c *AnalysisClient) FetchRisk(ctx context.Context, documentID string, persona model.Persona) (*model.RiskAssessment, error) {
	const op = "fetch risk"
	bound := c.config.RequestTimeout
	ctx, cancel := context.WithTimeout(ctx, bound)
	defer cancel()
	return c.getRisk(ctx, op, bound, documentID, persona)
}

// RequestCounterOffer asks the service to draft replacement language for a clause.
// Each call may produce different text.
func (c *AnalysisClient) RequestCounterOffer(ctx context.Context, clauseID string) (*model.CounterOffer, error) {
	const op = "counter offer"
	bound := c.config.CounterOfferTimeout
	ctx, cancel := context.WithTimeout(ctx, bound)
	defer cancel()

	data, err := c.do(ctx, op, bound, http.MethodPost, "/counter_offer/"+url.PathEscape(clauseID)+"/", nil, "")
	if err != nil {
		return nil, err
	}

	var offer model.CounterOffer
	if err := json.Unmarshal(data, &offer); err != nil {
		return nil, invalidResponse(op, err)
	}
	if offer.ClauseID == "" {
		offer.ClauseID = clauseID
	}
	return &offer, nil
}

// ExportReport downloads the rendered report for a document
func (c *AnalysisClient) ExportReport(ctx context.Context, documentID string) (*Report, error) {
	const op = "export"
	bound := c.config.RequestTimeout
	ctx, cancel := context.WithTimeout(ctx, bound)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, "/documents/"+url.PathEscape(documentID)+"/export/", nil)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "*/*")

	data, header, err := c.send(ctx, op, bound, req)
	if err != nil {
		return nil, err
	}

	contentType := header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/pdf"
	}
	return &Report{Data: data, ContentType: contentType}, nil
}

// waitForAnalysis polls an accepted document until the service finishes it.
// Transient poll failures are skipped; ctx carries the overall bound.
func (c *AnalysisClient) waitForAnalysis(ctx context.Context, op string, bound time.Duration, documentID string) (*model.DocumentAnalysis, error) {
	logger.Info(ctx, "document accepted for processing, polling", "document_id", documentID)

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return nil, classifyTransport(ctx, op, bound, ctx.Err())
		case <-c.clock.After(c.config.PollInterval):
		}

		analysis, err := c.getAnalysis(ctx, op, bound, documentID)
		if err != nil {
			if !retryablePoll(err) {
				return nil, err
			}
			logger.Warn(ctx, "poll attempt failed", "attempt", attempt, "error", err)
			continue
		}
		if !analysis.IsPending() {
			return analysis, nil
		}
		logger.Debug(ctx, "analysis still running", "attempt", attempt, "status", analysis.Status)
	}
}

func retryablePoll(err error) bool {
	switch ClassifyError(err) {
	case ErrorNetwork:
		var nerr *NetworkError
		return errors.As(err, &nerr) && !errors.Is(nerr.Err, context.Canceled)
	case ErrorServer:
		return true
	}
	return false
}

func (c *AnalysisClient) getAnalysis(ctx context.Context, op string, bound time.Duration, documentID string) (*model.DocumentAnalysis, error) {
	data, err := c.do(ctx, op, bound, http.MethodGet, "/documents/"+url.PathEscape(documentID)+"/", nil, "")
	if err != nil {
		return nil, err
	}
	return decodeAnalysis(op, data)
}

func (c *AnalysisClient) getRisk(ctx context.Context, op string, bound time.Duration, documentID string, persona model.Persona) (*model.RiskAssessment, error) {
	path := "/documents/" + url.PathEscape(documentID) + "/risk/"
	if persona != "" {
		path += "?" + url.Values{"persona": {string(persona)}}.Encode()
	}
	data, err := c.do(ctx, op, bound, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}

	var risk model.RiskAssessment
	if err := json.Unmarshal(data, &risk); err != nil {
		return nil, invalidResponse(op, err)
	}
	if risk.Persona == "" {
		risk.Persona = persona
	}
	return &risk, nil
}

func (c *AnalysisClient) finish(ctx context.Context, analysis *model.DocumentAnalysis) {
	analysis.Normalize()
	if unknown := analysis.UnknownCategories(); len(unknown) > 0 {
		logger.Warn(ctx, "clauses reference unknown risk categories",
			"document_id", analysis.ID,
			"categories", unknown,
		)
	}
}

func (c *AnalysisClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if id := logger.RequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *AnalysisClient) do(ctx context.Context, op string, bound time.Duration, method, path string, body io.Reader, contentType string) ([]byte, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	data, _, err := c.send(ctx, op, bound, req)
	return data, err
}

func (c *AnalysisClient) send(ctx context.Context, op string, bound time.Duration, req *http.Request) ([]byte, http.Header, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, classifyTransport(ctx, op, bound, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, classifyTransport(ctx, op, bound, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		serr := &ServiceError{Op: op, Status: resp.StatusCode, Message: serviceMessage(data)}
		logger.Warn(ctx, "analysis service error", "op", op, "status", resp.StatusCode, "message", serr.Message)
		return nil, nil, serr
	}
	return data, resp.Header, nil
}

func decodeAnalysis(op string, data []byte) (*model.DocumentAnalysis, error) {
	var analysis model.DocumentAnalysis
	if err := json.Unmarshal(data, &analysis); err != nil {
		return nil, invalidResponse(op, err)
	}
	if analysis.ID == "" {
		return nil, invalidResponse(op, errors.New("missing document id"))
	}
	return &analysis, nil
}

func invalidResponse(op string, err error) error {
	return &ServiceError{
		Op:      op,
		Status:  http.StatusBadGateway,
		Message: fmt.Sprintf("Invalid response from analysis service: %v", err),
	}
}

// serviceMessage extracts the server's explanation from an error body
func serviceMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, msg := range []string{payload.Message, payload.Error, payload.Detail} {
			if msg != "" {
				return msg
			}
		}
	}
	return "Server error occurred"
}

func buildUploadForm(req UploadRequest) (*bytes.Buffer, string, error) {
	if req.Content == nil {
		return nil, "", &ValidationError{Field: "file", Message: "No file provided"}
	}

	content, err := io.ReadAll(io.LimitReader(req.Content, MaxFileSize+1))
	if err != nil {
		return nil, "", &NetworkError{Op: "upload", Err: fmt.Errorf("failed to read document: %w", err)}
	}
	if err := ValidateFile(req.Filename, int64(len(content))); err != nil {
		return nil, "", err
	}

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="document"; filename=%q`, req.Filename))
	h.Set("Content-Type", ContentTypeFor(req.Filename))
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", &NetworkError{Op: "upload", Err: fmt.Errorf("failed to create form: %w", err)}
	}
	if _, err := part.Write(content); err != nil {
		return nil, "", &NetworkError{Op: "upload", Err: fmt.Errorf("failed to write form: %w", err)}
	}
	if req.Persona != "" {
		if err := w.WriteField("persona", string(req.Persona)); err != nil {
			return nil, "", &NetworkError{Op: "upload", Err: fmt.Errorf("failed to write form: %w", err)}
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", &NetworkError{Op: "upload", Err: fmt.Errorf("failed to close form: %w", err)}
	}
	return body, w.FormDataContentType(), nil
}
