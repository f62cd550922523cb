package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	service "github.com/okian/marksheet/internal/app"
	"github.com/okian/marksheet/internal/domain/model"
)

// maxBatchBytes bounds an ingestion request body.
const maxBatchBytes = 16 << 20

// AttemptsHandler handles ingestion, moderation and attempt reads.
type AttemptsHandler struct {
	deps Dependencies
}

// NewAttemptsHandler creates a new attempts handler.
func NewAttemptsHandler(deps Dependencies) *AttemptsHandler {
	return &AttemptsHandler{deps: deps}
}

type flagRequest struct {
	Reason string `json:"reason"`
}

// HandleIngest handles POST /api/ingest/attempts. The body is a JSON array
// of attempt events; the response lists one result per event.
func (h *AttemptsHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBatchBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			fail(w, ErrBodyTooBig)
			return
		}
		fail(w, badRequest("read body: %v", err))
		return
	}
	batch, err := model.DecodeEvents(body)
	if err != nil {
		fail(w, badRequest("%v", err))
		return
	}
	res, err := h.deps.Ingest(r.Context(), batch)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleRecompute handles POST /api/attempts/{id}/recompute.
func (h *AttemptsHandler) HandleRecompute(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, err)
		return
	}
	score, err := h.deps.Recompute(r.Context(), id)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

// HandleFlag handles POST /api/attempts/{id}/flag.
func (h *AttemptsHandler) HandleFlag(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, err)
		return
	}
	var req flagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, badRequest("decode flag: %v", err))
		return
	}
	flag, err := h.deps.Flag(r.Context(), id, req.Reason)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flag)
}

// HandleList handles GET /api/attempts.
func (h *AttemptsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q, err := parseAttemptQuery(r)
	if err != nil {
		fail(w, err)
		return
	}
	page, err := h.deps.ListAttempts(r.Context(), q)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// HandleDetail handles GET /api/attempts/{id}.
func (h *AttemptsHandler) HandleDetail(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, err)
		return
	}
	detail, err := h.deps.AttemptDetail(r.Context(), id)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func parseAttemptQuery(r *http.Request) (service.AttemptQuery, error) {
	var (
		q   service.AttemptQuery
		err error
	)
	if q.TestID, err = queryUUID(r, "test_id"); err != nil {
		return q, err
	}
	if q.StudentID, err = queryUUID(r, "student_id"); err != nil {
		return q, err
	}
	if q.HasDuplicates, err = queryBool(r, "has_duplicates"); err != nil {
		return q, err
	}
	if q.DateFrom, err = queryTime(r, "date_from"); err != nil {
		return q, err
	}
	if q.DateTo, err = queryTime(r, "date_to"); err != nil {
		return q, err
	}
	if q.Page, err = queryInt(r, "page"); err != nil {
		return q, err
	}
	if q.PageSize, err = queryInt(r, "page_size"); err != nil {
		return q, err
	}
	q.Status = model.Status(r.URL.Query().Get("status"))
	q.Search = r.URL.Query().Get("search")
	return q, nil
}
