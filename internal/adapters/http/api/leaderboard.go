package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	service "github.com/okian/marksheet/internal/app"
)

// LeaderboardDependencies defines the interface for leaderboard operations.
type LeaderboardDependencies interface {
	Leaderboard(ctx context.Context, testID uuid.UUID, page, pageSize int) (service.LeaderboardPage, error)
	ListTests(ctx context.Context) ([]service.TestSummary, error)
}

// LeaderboardHandler handles leaderboard and test listing requests.
type LeaderboardHandler struct {
	deps LeaderboardDependencies
}

// NewLeaderboardHandler creates a new leaderboard handler.
func NewLeaderboardHandler(deps LeaderboardDependencies) *LeaderboardHandler {
	return &LeaderboardHandler{deps: deps}
}

// HandleGetLeaderboard handles GET /api/leaderboard?test_id=&page=&page_size=.
func (h *LeaderboardHandler) HandleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	testID, err := queryUUID(r, "test_id")
	if err != nil {
		fail(w, err)
		return
	}
	if testID == nil {
		fail(w, badRequest("test_id is required"))
		return
	}
	page, err := queryInt(r, "page")
	if err != nil {
		fail(w, err)
		return
	}
	pageSize, err := queryInt(r, "page_size")
	if err != nil {
		fail(w, err)
		return
	}
	board, err := h.deps.Leaderboard(r.Context(), *testID, page, pageSize)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// HandleListTests handles GET /api/tests.
func (h *LeaderboardHandler) HandleListTests(w http.ResponseWriter, r *http.Request) {
	tests, err := h.deps.ListTests(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tests)
}
