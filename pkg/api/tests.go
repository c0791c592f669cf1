package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ethpandaops/perception/pkg/model"
	"github.com/ethpandaops/perception/pkg/platform"
	"github.com/ethpandaops/perception/pkg/runindex"
	"github.com/go-chi/chi/v5"
)

type testRequest struct {
	ID          string `json:"id,omitempty"`
	Rev         int64  `json:"rev,omitempty"`
	Source      string `json:"source"`
	Description string `json:"description"`
}

// runResponse decorates a run with its derived platform and interval.
type runResponse struct {
	model.Run
	Platform platform.Platform `json:"platform"`
	DeltaMs  *float64          `json:"delta_ms,omitempty"`
}

func toRunResponse(run model.Run) runResponse {
	resp := runResponse{
		Run:      run,
		Platform: platform.Classify(run.ClientIdentifier),
	}

	if ms, ok := run.Delta(); ok {
		resp.DeltaMs = &ms
	}

	return resp
}

func (s *server) handleListTests(w http.ResponseWriter, r *http.Request) {
	tests, err := s.docs.ListTests(r.Context())
	if err != nil {
		s.writeError(w, err, "Failed to list tests")

		return
	}

	writeJSON(w, http.StatusOK, tests)
}

func (s *server) handleGetTest(w http.ResponseWriter, r *http.Request) {
	test, err := s.docs.GetTest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err, "Failed to get test")

		return
	}

	writeJSON(w, http.StatusOK, test)
}

func (s *server) handleCreateTest(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if strings.TrimSpace(req.Source) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{"source is required"})

		return
	}

	test := &model.Test{
		ID:          req.ID,
		Source:      req.Source,
		Description: req.Description,
	}

	if err := s.docs.CreateTest(r.Context(), test); err != nil {
		s.writeError(w, err, "Failed to create test")

		return
	}

	writeJSON(w, http.StatusCreated, test)
}

// handleUpdateTest replaces source and description. The body must carry
// the current rev.
func (s *server) handleUpdateTest(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Rev <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{"rev is required"})

		return
	}

	if strings.TrimSpace(req.Source) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{"source is required"})

		return
	}

	test := &model.Test{
		ID:          chi.URLParam(r, "id"),
		Rev:         req.Rev,
		Source:      req.Source,
		Description: req.Description,
	}

	if err := s.docs.UpdateTest(r.Context(), test); err != nil {
		s.writeError(w, err, "Failed to update test")

		return
	}

	writeJSON(w, http.StatusOK, test)
}

// handleDeleteTest removes a test and its runs. ?rev= must match.
func (s *server) handleDeleteTest(w http.ResponseWriter, r *http.Request) {
	rev, err := strconv.ParseInt(r.URL.Query().Get("rev"), 10, 64)
	if err != nil || rev <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{"rev query parameter is required"})

		return
	}

	id := chi.URLParam(r, "id")

	if err := s.docs.DeleteTest(r.Context(), id, rev); err != nil {
		s.writeError(w, err, "Failed to delete test")

		return
	}

	s.log.WithField("test_id", id).
		WithField("user", userFromContext(r.Context()).Username).
		Info("Test deleted")

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// platformRange parses ?platform=, answering 400 when it is invalid.
func platformRange(w http.ResponseWriter, r *http.Request) (runindex.PlatformRange, bool) {
	pr, err := runindex.ParsePlatformRange(r.URL.Query().Get("platform"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return pr, false
	}

	return pr, true
}

// handleListRuns lists a test's runs, in-flight ones included, ordered by
// platform then insertion.
func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	pr, ok := platformRange(w, r)
	if !ok {
		return
	}

	test, err := s.docs.GetTest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err, "Failed to get test")

		return
	}

	runs, err := s.index.RunsFor(r.Context(), test.ID, pr)
	if err != nil {
		s.writeError(w, err, "Failed to list runs")

		return
	}

	resp := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, toRunResponse(run))
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleTestStats returns the statistics report of a test.
func (s *server) handleTestStats(w http.ResponseWriter, r *http.Request) {
	pr, ok := platformRange(w, r)
	if !ok {
		return
	}

	test, err := s.docs.GetTest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err, "Failed to get test")

		return
	}

	rep, err := s.reports.Build(r.Context(), *test, pr)
	if err != nil {
		s.writeError(w, err, "Failed to build report")

		return
	}

	writeJSON(w, http.StatusOK, rep)
}
