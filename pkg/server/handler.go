package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/m-mizutani/mneme/pkg/model"
	"github.com/m-mizutani/mneme/pkg/utils/logging"
)

type addRequest struct {
	OwnerID  string         `json:"owner_id"`
	UserID   string         `json:"user_id"`
	Text     string         `json:"text"`
	App      string         `json:"app"`
	Metadata map[string]any `json:"metadata"`

	// Infer defaults to true; send false to store the text verbatim.
	Infer *bool `json:"infer"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	owner := req.OwnerID
	if owner == "" {
		owner = req.UserID
	}
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}

	sub := &model.Submission{
		ID:       uuid.New().String(),
		OwnerID:  model.OwnerID(owner),
		Text:     req.Text,
		App:      req.App,
		Metadata: req.Metadata,
		Infer:    req.Infer == nil || *req.Infer,
	}

	report, err := s.pipeline.Add(r.Context(), sub)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner_id")
	query := r.URL.Query().Get("q")
	if owner == "" || query == "" {
		writeError(w, http.StatusBadRequest, "owner_id and q are required")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	results, err := s.pipeline.Search(r.Context(), model.OwnerID(owner), query, limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if results == nil {
		results = []model.Candidate{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner_id")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}

	record, err := s.pipeline.Get(r.Context(), model.OwnerID(owner), model.MemoryID(r.PathValue("id")))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner_id")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}

	var statuses []model.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := model.Status(raw)
		if err := status.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, "unknown status")
			return
		}
		statuses = append(statuses, status)
	}

	records, err := s.pipeline.List(r.Context(), model.OwnerID(owner), statuses...)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if records == nil {
		records = []*model.MemoryRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"memories": records})
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrSubmissionDenied):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, model.ErrMemoryNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		logging.From(r.Context()).Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Default().Error("failed to encode response", "error", err)
	}
}
