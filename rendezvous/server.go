package rendezvous

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves the four rendezvous endpoints described in the external
// interface: create, poll, details, join. Routing is manual path-prefix
// dispatch on a single handler, matching the teacher's style rather than
// pulling in a router framework.
type Server struct {
	registry    *Registry
	pollTimeout time.Duration
	metrics     *metrics
}

// NewServer returns a Server backed by registry, waiting up to pollTimeout
// on each long-poll before returning 408.
func NewServer(registry *Registry, pollTimeout time.Duration) *Server {
	return &Server{registry: registry, pollTimeout: pollTimeout, metrics: newMetrics()}
}

// Handler returns the gzip-wrapped API mux, ready to be mounted under
// /api/ (or served standalone) and metrics under /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions", s.handleCreate)
	mux.HandleFunc("/api/sessions/poll/", s.handlePoll)
	mux.HandleFunc("/api/sessions/details", s.handleDetails)
	mux.HandleFunc("/api/sessions/join", s.handleJoin)
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	go s.reportActiveSessions()
	return gziphandler.GzipHandler(mux)
}

func (s *Server) reportActiveSessions() {
	t := time.NewTicker(5 * time.Second)
	defer t.Stop()
	for range t.C {
		s.metrics.activeSessions.Set(float64(s.registry.Len()))
	}
}

func ownerID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type createRequest struct {
	ConnectionDetails string `json:"connection_details"`
	CompressionLevel  int    `json:"compression_level"`
	Password          string `json:"password"`
}

type createResponse struct {
	Code string `json:"code"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, errf(MalformedRequest, "method not allowed"))
		return
	}
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errf(MalformedRequest, "invalid request body: %v", err))
		return
	}
	if req.ConnectionDetails == "" {
		writeError(w, errf(MalformedRequest, "connection_details is required"))
		return
	}
	session, err := s.registry.Create(ownerID(r), req.ConnectionDetails, req.Password, req.CompressionLevel)
	if err != nil {
		writeError(w, err)
		return
	}
	s.metrics.sessionsCreated.Inc()
	writeJSON(w, http.StatusOK, createResponse{Code: session.Code})
}

type pollResponse struct {
	ConnectionDetails string `json:"connection_details"`
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, errf(MalformedRequest, "method not allowed"))
		return
	}
	code := r.URL.Path[len("/api/sessions/poll/"):]
	session := s.registry.Get(code)
	if session == nil {
		writeError(w, errf(NotFound, "unknown session %q", code))
		return
	}
	if session.OwnerID != ownerID(r) {
		writeError(w, errf(Forbidden, "not the owner of session %q", code))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.pollTimeout)
	defer cancel()
	answer, err := session.Handoff.Wait(ctx)
	if err != nil {
		// A timed-out poll does not remove the session: a join arriving
		// after this deadline must still fill the slot, and the client's
		// immediate re-poll must observe it. Only a successful handoff
		// (below) or the idle-TTL sweep retires the session.
		s.metrics.pollTimeouts.Inc()
		writeError(w, errf(PollTimeout, "no answer within the poll deadline"))
		return
	}
	s.registry.Remove(code)
	writeJSON(w, http.StatusOK, pollResponse{ConnectionDetails: answer})
}

type detailsRequest struct {
	Code     string `json:"code"`
	Password string `json:"password"`
}

type detailsResponse struct {
	ConnectionDetails string `json:"connection_details"`
}

func (s *Server) handleDetails(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, errf(MalformedRequest, "method not allowed"))
		return
	}
	var req detailsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errf(MalformedRequest, "invalid request body: %v", err))
		return
	}
	session := s.registry.Get(req.Code)
	if session == nil {
		writeError(w, errf(NotFound, "unknown session %q", req.Code))
		return
	}
	if session.Password != req.Password {
		writeError(w, errf(Unauthorized, "wrong password"))
		return
	}
	writeJSON(w, http.StatusOK, detailsResponse{ConnectionDetails: session.HostOffer})
}

type joinRequest struct {
	Code              string `json:"code"`
	Password          string `json:"password"`
	ConnectionDetails string `json:"connection_details"`
}

type joinResponse struct {
	CompressionLevel  int    `json:"compression_level"`
	HasPassword       bool   `json:"has_password"`
	ConnectionDetails string `json:"connection_details"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, errf(MalformedRequest, "method not allowed"))
		return
	}
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errf(MalformedRequest, "invalid request body: %v", err))
		return
	}
	session := s.registry.Get(req.Code)
	if session == nil {
		writeError(w, errf(NotFound, "unknown session %q", req.Code))
		return
	}
	if session.Password != req.Password {
		writeError(w, errf(Unauthorized, "wrong password"))
		return
	}
	if req.ConnectionDetails == "" {
		writeError(w, errf(MalformedRequest, "connection_details is required"))
		return
	}
	if !session.Handoff.FillOnce(req.ConnectionDetails) {
		writeError(w, errf(Conflict, "session %q already joined", req.Code))
		return
	}
	s.metrics.sessionsJoined.Inc()
	writeJSON(w, http.StatusOK, joinResponse{
		CompressionLevel:  session.CompressionLevel,
		HasPassword:       session.HasPassword(),
		ConnectionDetails: session.HostOffer,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("rendezvous: writing response: %v", err)
	}
}
