package httpapi

import (
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"time"

	"medsight/internal/domain"
	"medsight/internal/usecase"
)

type createSessionRequest struct {
	UserID string `json:"user_id"`
}

type sessionResponse struct {
	SessionID string                     `json:"session_id"`
	UserID    string                     `json:"user_id,omitempty"`
	CreatedAt time.Time                  `json:"created_at"`
	UpdatedAt time.Time                  `json:"updated_at"`
	Summary   string                     `json:"summary,omitempty"`
	Stats     *usecase.ConversationStats `json:"stats,omitempty"`
	Context   *usecase.SessionContext    `json:"context,omitempty"`
}

type queryRequest struct {
	Query string `json:"query"`
}

type queryResponse struct {
	Success         bool                 `json:"success"`
	Answer          string               `json:"answer,omitempty"`
	Confidence      float64              `json:"confidence"`
	RequestType     string               `json:"request_type,omitempty"`
	RefinementNotes []string             `json:"refinement_notes,omitempty"`
	SafetyCheck     *domain.SafetyReport `json:"safety_check,omitempty"`
	Error           string               `json:"error,omitempty"`
	Metadata        map[string]any       `json:"metadata,omitempty"`
}

type attachmentResponse struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Type   string `json:"type"`
	Format string `json:"format,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"sessions":       len(s.deps.Assistant.Sessions().All()),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"agents": s.deps.Assistant.Orchestrator().AgentMetrics(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, domain.NewDomainError("CreateSession", domain.ErrInvalidInput, "malformed JSON"))
			return
		}
	}
	sess := s.deps.Assistant.Sessions().Create(req.UserID)
	writeJSON(w, http.StatusCreated, sessionResponse{
		SessionID: sess.ID(),
		UserID:    sess.UserID(),
		CreatedAt: sess.CreatedAt(),
		UpdatedAt: sess.UpdatedAt(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Assistant.Sessions().GetOrRestore(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	stats := s.deps.Retrieval.SummaryStats(sess)
	cm := s.deps.Assistant.Context()
	sc := cm.Context(sess, false, false)
	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID: sess.ID(),
		UserID:    sess.UserID(),
		CreatedAt: sess.CreatedAt(),
		UpdatedAt: sess.UpdatedAt(),
		Summary:   cm.Summarize(sess),
		Stats:     &stats,
		Context:   &sc,
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	removed, err := s.deps.Assistant.Sessions().Delete(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !removed {
		writeError(w, domain.NewDomainError("DeleteSession", domain.ErrSessionNotFound, id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	file, name, err := formFile(r)
	if err != nil {
		writeError(w, err)
		return
	}
	defer file.Close()

	img, err := s.deps.Loader.LoadImage(file, name)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Assistant.AttachImage(r.Context(), r.PathValue("id"), img); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, attachmentResponse{
		ID:     img.ImageID,
		Kind:   "image",
		Type:   string(img.ImageType),
		Width:  img.Width,
		Height: img.Height,
	})
}

func (s *Server) handleUploadRecord(w http.ResponseWriter, r *http.Request) {
	file, name, err := formFile(r)
	if err != nil {
		writeError(w, err)
		return
	}
	defer file.Close()

	rec, err := s.deps.Loader.LoadRecord(file, name)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Assistant.AttachRecord(r.Context(), r.PathValue("id"), rec); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, attachmentResponse{
		ID:     rec.RecordID,
		Kind:   "record",
		Type:   string(rec.RecordType),
		Format: string(rec.DocumentFormat),
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewDomainError("Query", domain.ErrInvalidInput, "malformed JSON"))
		return
	}
	res, err := s.deps.Assistant.Ask(r.Context(), r.PathValue("id"), req.Query)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := queryResponse{
		Success:    res.Success,
		Confidence: res.Confidence,
		Error:      res.Error,
		Metadata:   res.Metadata,
	}
	if t, ok := res.Metadata["request_type"].(string); ok {
		resp.RequestType = t
	}
	if ans, ok := res.Data.(*domain.Answer); ok {
		resp.Answer = ans.Answer
		resp.RefinementNotes = ans.RefinementNotes
		resp.SafetyCheck = ans.SafetyCheck
	}
	writeJSON(w, http.StatusOK, resp)
}

// formFile returns the "file" part of a multipart upload and its name.
func formFile(r *http.Request) (multipart.File, string, error) {
	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, "", domain.NewDomainError("Upload", domain.ErrInvalidInput, "upload too large")
		}
		return nil, "", domain.NewDomainError("Upload", domain.ErrInvalidInput, "multipart field \"file\" is required")
	}
	return file, header.Filename, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status code through its domain error code.
func writeError(w http.ResponseWriter, err error) {
	code := domain.ErrorCodeOf(err)
	writeJSON(w, statusFor(code), map[string]string{
		"error":      err.Error(),
		"error_code": string(code),
	})
}

func statusFor(code domain.ErrorCode) int {
	switch code {
	case domain.CodeSessionNotFound, domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeInvalidInput, domain.CodeInvalidSessionID, domain.CodeUnsupportedFormat, domain.CodeImageQuality:
		return http.StatusBadRequest
	case domain.CodeRateLimit:
		return http.StatusTooManyRequests
	case domain.CodeDecryption:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
