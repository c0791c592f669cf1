package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ethpandaops/perception/pkg/lifecycle"
	"github.com/ethpandaops/perception/pkg/timing"
	"github.com/go-chi/chi/v5"
)

// contentSecurityPolicy isolates test markup from the API origin while
// still letting it run scripts and open the channel websocket.
const contentSecurityPolicy = "sandbox allow-scripts allow-forms"

type startSessionRequest struct {
	Mode string `json:"mode,omitempty"`
}

// measurementSessionResponse is a lifecycle snapshot plus the addresses
// an embedding page needs.
type measurementSessionResponse struct {
	lifecycle.Snapshot
	ContentURL string `json:"content_url"`
	ChannelURL string `json:"channel_url,omitempty"`
	EmbedURL   string `json:"embed_url,omitempty"`
}

func (s *server) sessionResponse(r *http.Request, snap lifecycle.Snapshot, inst *lifecycle.Instance) measurementSessionResponse {
	resp := measurementSessionResponse{
		Snapshot:   snap,
		ContentURL: baseURL(r, "http") + "/api/v1/sessions/" + snap.ID + "/content",
	}

	if snap.Mode == timing.ModeContent {
		resp.ChannelURL = channelURL(r, snap.ID)
	}

	if c, ok := inst.Frame().Current(); ok {
		resp.EmbedURL = c.EmbedURL()
	}

	return resp
}

// handleStartSession creates an IDLE measurement session for a test. The
// caller's User-Agent becomes the run's client identifier.
func (s *server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	req := startSessionRequest{}
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	if req.Mode == "" {
		req.Mode = s.cfg.Sessions.DefaultMode
	}

	mode, err := timing.ParseMode(req.Mode)
	if err != nil {
		s.writeError(w, err, "Invalid mode")

		return
	}

	test, err := s.docs.GetTest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err, "Failed to get test")

		return
	}

	var clientID *string
	if ua := r.UserAgent(); ua != "" {
		clientID = &ua
	}

	inst, err := s.lifecycles.StartLifecycle(r.Context(), *test, clientID, mode)
	if err != nil {
		s.writeError(w, err, "Failed to start session")

		return
	}

	writeJSON(w, http.StatusCreated, s.sessionResponse(r, inst.Snapshot(), inst))
}

func (s *server) handleListMeasurementSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.lifecycles.List())
}

func (s *server) handleGetMeasurementSession(w http.ResponseWriter, r *http.Request) {
	inst, err := s.lifecycles.Get(chi.URLParam(r, "sid"))
	if err != nil {
		s.writeError(w, err, "Failed to get session")

		return
	}

	writeJSON(w, http.StatusOK, s.sessionResponse(r, inst.Snapshot(), inst))
}

// handleToggleSession advances a session one step. A failed effect answers
// with the error and leaves the session where it was.
func (s *server) handleToggleSession(w http.ResponseWriter, r *http.Request) {
	s.fireSession(w, r, s.lifecycles.Toggle)
}

func (s *server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	s.fireSession(w, r, s.lifecycles.Reset)
}

func (s *server) fireSession(
	w http.ResponseWriter,
	r *http.Request,
	fire func(ctx context.Context, id string) (lifecycle.Snapshot, error),
) {
	sid := chi.URLParam(r, "sid")

	snap, err := fire(r.Context(), sid)
	if err != nil {
		s.writeError(w, err, "Session transition failed")

		return
	}

	inst, err := s.lifecycles.Get(sid)
	if err != nil {
		s.writeError(w, err, "Failed to get session")

		return
	}

	writeJSON(w, http.StatusOK, s.sessionResponse(r, snap, inst))
}

func (s *server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.lifecycles.Close(r.Context(), chi.URLParam(r, "sid")); err != nil {
		s.writeError(w, err, "Failed to close session")

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSessionContent serves whatever the session's frame holds. URL
// content is a redirect; markup is served sandboxed, with the channel
// client appended in content mode.
func (s *server) handleSessionContent(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")

	inst, err := s.lifecycles.Get(sid)
	if err != nil {
		s.writeError(w, err, "Failed to get session")

		return
	}

	content, ok := inst.Frame().Current()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{"nothing embedded"})

		return
	}

	if content.IsURL() {
		http.Redirect(w, r, content.URL, http.StatusFound)

		return
	}

	if inst.Mode() == timing.ModeContent {
		content = content.WithBootstrap(channelURL(r, sid))
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Security-Policy", contentSecurityPolicy)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	_, _ = w.Write([]byte(content.Markup))
}

// handleSessionChannel upgrades to the content channel websocket.
func (s *server) handleSessionChannel(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")

	err := s.hub.Serve(w, r, sid)
	switch {
	case err == nil:
	case errors.Is(err, timing.ErrUnknownChannel):
		writeJSON(w, http.StatusNotFound, errorResponse{"no open channel for session"})
	default:
		// The upgrader has already answered the request.
		s.log.WithError(err).WithField("session", sid).Debug("Channel connection failed")
	}
}

// baseURL reconstructs the externally visible origin of r using scheme
// (http or ws) and its TLS variant.
func baseURL(r *http.Request, scheme string) string {
	secure := r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
	if secure {
		scheme += "s"
	}

	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = fwd
	}

	return scheme + "://" + host
}

func channelURL(r *http.Request, sid string) string {
	return baseURL(r, "ws") + "/api/v1/sessions/" + sid + "/channel"
}
