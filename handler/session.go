package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/AnTengye/contractrisk/middleware"
	"github.com/AnTengye/contractrisk/model"
	"github.com/AnTengye/contractrisk/pkg/logger"
	"github.com/AnTengye/contractrisk/service"
	"github.com/AnTengye/contractrisk/session"
	"github.com/gin-gonic/gin"
)

// maxUploadBody bounds the multipart body; the form adds a little on top of the file
const maxUploadBody = service.MaxFileSize + 1<<20

// ClientFactory returns an analysis client that authenticates with the user's token
type ClientFactory func(token string) session.AnalysisService

type SessionHandler struct {
	store   *session.Store
	clients ClientFactory
}

func NewSessionHandler(store *session.Store, clients ClientFactory) *SessionHandler {
	return &SessionHandler{store: store, clients: clients}
}

type personaRequest struct {
	Persona string `json:"persona"`
}

// Create starts a new workflow session for the current user
func (h *SessionHandler) Create(c *gin.Context) {
	var req personaRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	persona := model.DefaultPersona
	if req.Persona != "" {
		p, ok := model.ParsePersona(req.Persona)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown persona"})
			return
		}
		persona = p
	}

	username := middleware.GetUsername(c)
	sess := h.store.Create(context.Background(), username, h.clients(middleware.GetToken(c)), persona)
	c.JSON(http.StatusCreated, sess.Snapshot())
}

// List returns the current user's sessions
func (h *SessionHandler) List(c *gin.Context) {
	sessions := h.store.GetByOwner(middleware.GetUsername(c))
	result := make([]session.Snapshot, len(sessions))
	for i, sess := range sessions {
		result[i] = sess.Snapshot()
	}
	c.JSON(http.StatusOK, gin.H{"sessions": result})
}

// Get returns the session's upload state and which view is active
func (h *SessionHandler) Get(c *gin.Context) {
	sess := h.lookup(c)
	if sess == nil {
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

// Delete tears the session down
func (h *SessionHandler) Delete(c *gin.Context) {
	sess := h.lookup(c)
	if sess == nil {
		return
	}
	h.store.Delete(sess.ID)
	c.JSON(http.StatusOK, gin.H{"message": "Session closed"})
}

// SelectFile stages the document from the multipart field "document"
func (h *SessionHandler) SelectFile(c *gin.Context) {
	sess := h.lookup(c)
	if sess == nil {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBody)
	file, header, err := c.Request.FormFile("document")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c, &service.ValidationError{
				Field:   "file size",
				Message: fmt.Sprintf("File is larger than %s", service.FormatFileSize(service.MaxFileSize)),
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	defer file.Close()

	state, err := sess.Upload().SelectFile(c.Request.Context(), header.Filename, header.Size, file)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// Upload starts the analysis of the selected file, or retries a failed one
func (h *SessionHandler) Upload(c *gin.Context) {
	sess := h.lookup(c)
	if sess == nil {
		return
	}

	var (
		state session.UploadState
		err   error
	)
	if sess.Upload().State().Phase == session.PhaseFailed {
		state, err = sess.Upload().Retry()
	} else {
		state, err = sess.Upload().Begin()
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, state)
}

// Dashboard returns the dashboard of the latest analysis
func (h *SessionHandler) Dashboard(c *gin.Context) {
	_, dashboard := h.dashboard(c)
	if dashboard == nil {
		return
	}
	c.JSON(http.StatusOK, dashboard.View())
}

// OpenDocument opens the dashboard of an analysis by its document id
func (h *SessionHandler) OpenDocument(c *gin.Context) {
	sess := h.lookup(c)
	if sess == nil {
		return
	}
	documentID := c.Param("documentId")
	ctx := logger.With(c.Request.Context(), logger.DocumentKey, documentID)

	dashboard, err := sess.OpenDocument(ctx, documentID)
	if err != nil {
		logger.Warn(ctx, "failed to open document", "error", err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dashboard.View())
}

// SetPersona changes the persona. An open dashboard re-fetches its analysis.
func (h *SessionHandler) SetPersona(c *gin.Context) {
	sess := h.lookup(c)
	if sess == nil {
		return
	}

	var req personaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	persona, ok := model.ParsePersona(req.Persona)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown persona"})
		return
	}

	revalidating := sess.SetPersona(persona)
	logger.Info(c.Request.Context(), "persona changed", "persona", persona, "revalidating", revalidating)
	c.JSON(http.StatusOK, gin.H{
		"persona":       persona,
		"persona_label": persona.Label(),
		"revalidating":  revalidating,
	})
}

// RequestCounterOffer starts generating alternative wording for a clause
func (h *SessionHandler) RequestCounterOffer(c *gin.Context) {
	sess, dashboard := h.dashboard(c)
	if dashboard == nil {
		return
	}
	clauseID := c.Param("clauseId")

	started, err := dashboard.RequestCounterOffer(clauseID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"clause_id":   clauseID,
		"started":     started,
		"negotiation": sess.Tracker().State(clauseID),
	})
}

// ResetCounterOffer dismisses a clause's counter-offer
func (h *SessionHandler) ResetCounterOffer(c *gin.Context) {
	sess := h.lookup(c)
	if sess == nil {
		return
	}
	clauseID := c.Param("clauseId")
	sess.Tracker().Reset(clauseID)
	c.JSON(http.StatusOK, gin.H{
		"clause_id":   clauseID,
		"negotiation": sess.Tracker().State(clauseID),
	})
}

// Export downloads the analysis report
func (h *SessionHandler) Export(c *gin.Context) {
	_, dashboard := h.dashboard(c)
	if dashboard == nil {
		return
	}

	report, filename, err := dashboard.Export(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, report.ContentType, report.Data)
}

// Personas lists the selectable personas
func (h *SessionHandler) Personas(c *gin.Context) {
	result := make([]gin.H, len(model.Personas))
	for i, p := range model.Personas {
		result[i] = gin.H{
			"id":          p,
			"label":       p.Label(),
			"description": p.Description(),
		}
	}
	c.JSON(http.StatusOK, gin.H{"personas": result, "default": model.DefaultPersona})
}

// lookup finds the session in the path and checks it belongs to the user.
// It writes the 404 itself.
func (h *SessionHandler) lookup(c *gin.Context) *session.Session {
	sess := h.store.Get(c.Param("id"))
	if sess == nil || sess.Owner != middleware.GetUsername(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return nil
	}
	sess.Touch()
	c.Request = c.Request.WithContext(logger.With(c.Request.Context(), logger.SessionKey, sess.ID))
	return sess
}

func (h *SessionHandler) dashboard(c *gin.Context) (*session.Session, *session.Dashboard) {
	sess := h.lookup(c)
	if sess == nil {
		return nil, nil
	}
	dashboard, ok := sess.Dashboard()
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "Analysis not ready"})
		return sess, nil
	}
	return sess, dashboard
}

// writeError maps workflow and analysis service errors to a response
func writeError(c *gin.Context, err error) {
	var (
		verr *service.ValidationError
		terr *session.TransitionError
		nerr *service.NetworkError
		kind service.ErrorKind
	)
	status := http.StatusInternalServerError
	message := "Internal server error"

	switch {
	case errors.As(err, &verr):
		status, message, kind = http.StatusBadRequest, verr.Message, service.ErrorValidation
	case errors.As(err, &terr):
		status, message = http.StatusConflict, "Cannot "+terr.Action+" while "+string(terr.From)
	case errors.Is(err, session.ErrSessionClosed):
		status, message = http.StatusConflict, "Session closed"
	case errors.Is(err, session.ErrUnknownClause):
		status, message = http.StatusNotFound, "Clause not found"
	default:
		switch k := service.ClassifyError(err); k {
		case service.ErrorTimeout:
			status, message, kind = http.StatusGatewayTimeout, service.UserMessage(err), k
		case service.ErrorServer, service.ErrorClient:
			status, message, kind = http.StatusBadGateway, service.UserMessage(err), k
		default:
			if errors.As(err, &nerr) {
				status, message, kind = http.StatusBadGateway, service.UserMessage(err), k
			}
		}
	}

	_ = c.Error(err)
	body := gin.H{"error": message}
	if kind != "" {
		body["kind"] = kind
	}
	c.JSON(status, body)
}
