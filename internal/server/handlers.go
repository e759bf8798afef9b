package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jonathan/brigade/internal/export"
	"github.com/jonathan/brigade/internal/pipeline"
	"github.com/jonathan/brigade/internal/session"
	"github.com/jonathan/brigade/internal/types"
)

// CreateSessionRequest represents the request body for POST /sessions
type CreateSessionRequest struct {
	RawInput     string `json:"raw_input" validate:"required,max=20000"`
	OfferDetails string `json:"offer_details,omitempty" validate:"max=5000"`
}

// SessionResponse acknowledges a started run
type SessionResponse struct {
	SessionID  string              `json:"session_id"`
	Status     types.SessionStatus `json:"status"`
	Generation int                 `json:"generation"`
}

// SessionSummary is the list view of a session
type SessionSummary struct {
	ID          string              `json:"id"`
	ProjectName string              `json:"project_name"`
	Status      types.SessionStatus `json:"status"`
	Score       *int                `json:"score,omitempty"`
	TotalTokens int                 `json:"total_tokens"`
	TotalCost   float64             `json:"total_cost"`
	Timestamp   time.Time           `json:"timestamp"`
	Generation  int                 `json:"generation"`
	Error       string              `json:"error,omitempty"`
}

// SessionListResponse represents the response for GET /sessions
type SessionListResponse struct {
	Sessions []SessionSummary `json:"sessions"`
	Total    int              `json:"total"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	// report fields by their JSON names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &ErrBadRequest{Cause: err}
	}

	if err := s.validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &ErrValidation{Field: fe.Field(), Message: validationMessage(fe)}
		}
		return err
	}
	return nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return "failed " + fe.Tag() + " check"
	}
}

// handleCreateSession starts a run in the background and returns its id
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	sess, err := s.orch.Prepare(r.Context(), req.RawInput, req.OfferDetails)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.orch.Start(r.Context(), sess)

	s.jsonResponse(w, http.StatusAccepted, SessionResponse{
		SessionID:  sess.ID,
		Status:     sess.Status,
		Generation: sess.Generation,
	})
}

// handleCreateSessionStream starts a run and streams its progress as SSE until the
// run settles or the client goes away. The run itself continues either way.
func (s *Server) handleCreateSessionStream(w http.ResponseWriter, r *http.Request) {
	b := s.orch.Broadcaster()
	if b == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "streaming is not enabled")
		return
	}

	var req CreateSessionRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	sess, err := s.orch.Prepare(r.Context(), req.RawInput, req.OfferDetails)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	events, cancel := b.Subscribe(sess.ID)
	defer cancel()
	s.orch.Start(r.Context(), sess)

	if err := sse.WriteEvent("session", SessionResponse{
		SessionID:  sess.ID,
		Status:     sess.Status,
		Generation: sess.Generation,
	}); err != nil {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if event.Generation != sess.Generation {
				continue
			}
			if err := sse.WriteEvent("progress", event); err != nil {
				return
			}
			switch event.Step {
			case pipeline.StepFailed:
				sse.WriteError(event.Message)
			case pipeline.StepDiscarded:
				sse.WriteComplete(sess.ID, sess.Generation, pipeline.StepDiscarded)
				return
			case pipeline.StepCompleted:
			default:
				continue
			}
			status := types.SessionRunning
			if current, err := s.orch.Sessions().Get(sess.ID); err == nil {
				status = current.Status
			}
			sse.WriteComplete(sess.ID, sess.Generation, string(status))
			return
		}
	}
}

// handleListSessions lists sessions newest first, optionally filtered by status
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	filter := types.SessionStatus(r.URL.Query().Get("status"))

	resp := SessionListResponse{Sessions: []SessionSummary{}}
	for _, sess := range s.orch.Sessions().List() {
		if filter != "" && sess.Status != filter {
			continue
		}
		resp.Sessions = append(resp.Sessions, summarize(sess))
	}
	resp.Total = len(resp.Sessions)

	s.jsonResponse(w, http.StatusOK, resp)
}

func summarize(sess types.Session) SessionSummary {
	return SessionSummary{
		ID:          sess.ID,
		ProjectName: sess.ProjectName,
		Status:      sess.Status,
		Score:       sess.Score,
		TotalTokens: sess.TotalTokens,
		TotalCost:   sess.TotalCost,
		Timestamp:   sess.Timestamp,
		Generation:  sess.Generation,
		Error:       sess.Error,
	}
}

// handleGetSession returns the full session with artifacts and logs
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.orch.Sessions().Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, sess)
}

// handleDeleteSession removes a session
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.orch.Sessions().Delete(r.Context(), id)
	if errors.Is(err, session.ErrPersist) {
		s.logger.Warn("session deleted but not persisted", "session", id, "error", err)
		err = nil
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRerunSession starts a new generation of an existing session
func (s *Server) handleRerunSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.orch.Rerun(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, SessionResponse{
		SessionID:  sess.ID,
		Status:     sess.Status,
		Generation: sess.Generation,
	})
}

// handleExportSession returns the markdown dossier of a completed session
func (s *Server) handleExportSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.orch.Sessions().Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	doc, err := export.Markdown(sess)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(sess)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(doc)); err != nil {
		s.logger.Debug("export write failed", "session", sess.ID, "error", err)
	}
}
