package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cwygoda/streamrelay/internal/command"
	"github.com/cwygoda/streamrelay/internal/domain"
	"github.com/cwygoda/streamrelay/internal/signature"
	"github.com/cwygoda/streamrelay/internal/supervisor"
)

const maxBodySize = 1 << 20

// Server is the HTTP intake for stream jobs and chat commands.
type Server struct {
	sup     *supervisor.Supervisor
	journal domain.EventJournal
	mux     *http.ServeMux
	server  *http.Server
	secret  string
	now     func() time.Time
}

// NewServer creates a new HTTP server. journal may be nil.
func NewServer(sup *supervisor.Supervisor, journal domain.EventJournal, addr string, secret string) *Server {
	s := &Server{
		sup:     sup,
		journal: journal,
		mux:     http.NewServeMux(),
		secret:  secret,
		now:     time.Now,
	}
	s.routes()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /streams", s.handleCreateStream)
	s.mux.HandleFunc("GET /streams", s.handleListStreams)
	s.mux.HandleFunc("GET /streams/{id}", s.handleGetStream)
	s.mux.HandleFunc("DELETE /streams/{id}", s.handleCancelStream)
	s.mux.HandleFunc("GET /streams/{id}/events", s.handleStreamEvents)
	s.mux.HandleFunc("POST /messages", s.handleMessage)
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

// streamRequest is the request body for POST /streams.
type streamRequest struct {
	DestinationURL string `json:"destination_url"`
	StreamKey      string `json:"stream_key"`
	SourcePath     string `json:"source_path"`
	RepeatCount    int    `json:"repeat_count"`
	Chat           string `json:"chat"`
}

// messageRequest is the request body for POST /messages.
type messageRequest struct {
	Chat string `json:"chat"`
	Body string `json:"body"`
}

// messageResponse carries the immediate chat reply, if any.
type messageResponse struct {
	Reply string   `json:"reply,omitempty"`
	JobID string   `json:"job_id,omitempty"`
	Jobs  []string `json:"jobs,omitempty"`
}

// cancelResponse is the JSON response for DELETE /streams/{id}.
type cancelResponse struct {
	ID        string `json:"id"`
	Cancelled bool   `json:"cancelled"`
}

// errorResponse is the JSON error response.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleCreateStream(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readVerified(w, r)
	if !ok {
		return
	}

	var req streamRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	snap, err := s.start(domain.StreamJobParams{
		DestinationURL: req.DestinationURL,
		StreamKey:      req.StreamKey,
		SourcePath:     req.SourcePath,
		RepeatCount:    req.RepeatCount,
		Chat:           req.Chat,
	})
	if err != nil {
		s.writeStartError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, snap)
}

func (s *Server) handleListStreams(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.sup.List())
}

func (s *Server) handleGetStream(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sup.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		log.Printf("get job error: %v", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCancelStream(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.readVerified(w, r); !ok {
		return
	}

	id := r.PathValue("id")
	if _, err := s.sup.Get(id); errors.Is(err, domain.ErrJobNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if !s.sup.Cancel(id) {
		s.writeError(w, http.StatusConflict, "job already finished")
		return
	}
	s.writeJSON(w, http.StatusOK, cancelResponse{ID: id, Cancelled: true})
}

func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(w, http.StatusNotFound, "journal disabled")
		return
	}
	events, err := s.journal.Events(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		log.Printf("journal error: %v", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readVerified(w, r)
	if !ok {
		return
	}

	var msg messageRequest
	if err := json.Unmarshal(body, &msg); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	cmd, err := command.Parse(msg.Body)
	if err != nil {
		s.writeJSON(w, http.StatusOK, messageResponse{Reply: err.Error()})
		return
	}

	switch cmd.Kind {
	case command.Ping:
		s.writeJSON(w, http.StatusOK, messageResponse{Reply: "pong"})
	case command.Stream:
		p := cmd.Stream
		p.Chat = msg.Chat
		snap, err := s.start(p)
		if err != nil {
			var verr *domain.ValidationError
			if errors.As(err, &verr) {
				s.writeJSON(w, http.StatusOK, messageResponse{Reply: "Error: " + verr.Reason})
				return
			}
			log.Printf("start stream error: %v", err)
			s.writeJSON(w, http.StatusOK, messageResponse{Reply: "Error: " + err.Error()})
			return
		}
		s.writeJSON(w, http.StatusOK, messageResponse{
			Reply: fmt.Sprintf("Stream job %s queued. Send !stop %s to cancel.", snap.ID, snap.ID),
			JobID: snap.ID,
		})
	case command.Stop:
		s.writeJSON(w, http.StatusOK, s.stop(msg.Chat, cmd.JobID))
	default:
		s.writeJSON(w, http.StatusOK, messageResponse{})
	}
}

// stop cancels jobID, or every active job of chat when jobID is empty.
func (s *Server) stop(chat, jobID string) messageResponse {
	if jobID != "" {
		if !s.sup.Cancel(jobID) {
			return messageResponse{Reply: fmt.Sprintf("No active stream %s.", jobID)}
		}
		return messageResponse{Reply: fmt.Sprintf("Stopping stream %s after the current attempt.", jobID), Jobs: []string{jobID}}
	}

	var stopped []string
	for _, snap := range s.sup.List() {
		if snap.Request.Chat != chat || snap.State.Terminal() {
			continue
		}
		if s.sup.Cancel(snap.ID) {
			stopped = append(stopped, snap.ID)
		}
	}
	if len(stopped) == 0 {
		return messageResponse{Reply: "No active streams."}
	}
	return messageResponse{
		Reply: fmt.Sprintf("Stopping %d active stream(s) after the current attempt.", len(stopped)),
		Jobs:  stopped,
	}
}

func (s *Server) start(p domain.StreamJobParams) (domain.JobSnapshot, error) {
	req, err := domain.NewStreamJobRequest(p)
	if err != nil {
		return domain.JobSnapshot{}, err
	}
	id, err := s.sup.Start(req)
	if err != nil {
		return domain.JobSnapshot{}, err
	}
	snap, err := s.sup.Get(id)
	if err != nil {
		// Already finished and released.
		return domain.JobSnapshot{ID: id, Request: req, State: domain.StatePending}, nil
	}
	return snap, nil
}

func (s *Server) writeStartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrDuplicateJob):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, supervisor.ErrShuttingDown):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		log.Printf("start stream error: %v", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// readVerified reads the body and checks its signature when a secret is
// configured. On failure it writes the response and returns false.
func (s *Server) readVerified(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	if s.secret != "" {
		if err := signature.Verify(r.Header, body, s.secret, s.now()); err != nil {
			log.Printf("request verification failed: %v", err)
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return nil, false
		}
	}
	return body, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Port extracts the port from the address.
func (s *Server) Port() int {
	addr := s.server.Addr
	if idx := strings.LastIndex(addr, ":"); idx >= 0 {
		port, _ := strconv.Atoi(addr[idx+1:])
		return port
	}
	return 0
}
