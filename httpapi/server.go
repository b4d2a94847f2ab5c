// Package httpapi exposes the chat service over HTTP: JSON endpoints for
// blocking turns and listings, and Server-Sent Events for streamed turns.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/trendchat/trendchat/auth"
	"github.com/trendchat/trendchat/chat"
	"github.com/trendchat/trendchat/core"
	"github.com/trendchat/trendchat/logging"
	"github.com/trendchat/trendchat/metrics"
)

// Options configure the server.
type Options struct {
	Logger  logging.Logger
	Metrics *metrics.Metrics
}

// Server ties the orchestrator and token verifier to the HTTP surface.
type Server struct {
	orchestrator *chat.Orchestrator
	verifier     *auth.Verifier
	logger       logging.Logger
	metrics      *metrics.Metrics
	mux          *http.ServeMux
}

func NewServer(orchestrator *chat.Orchestrator, verifier *auth.Verifier, optFns ...func(o *Options)) *Server {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Server{
		orchestrator: orchestrator,
		verifier:     verifier,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		mux:          http.NewServeMux(),
	}

	s.mux.HandleFunc("POST /api/v1/chat/message", s.authenticated(s.handleSendMessage))
	s.mux.HandleFunc("POST /api/v1/chat/message/stream", s.authenticated(s.handleSendMessageStream))
	s.mux.HandleFunc("GET /api/v1/chat/conversations", s.authenticated(s.handleListConversations))
	s.mux.HandleFunc("GET /api/v1/chat/conversations/{id}/messages", s.authenticated(s.handleGetMessages))
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if opts.Metrics != nil {
		s.mux.Handle("GET /metrics", opts.Metrics.Handler())
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

type authedHandler func(w http.ResponseWriter, r *http.Request, identity *auth.Identity)

// authenticated resolves the bearer token before dispatching to the handler.
func (s *Server) authenticated(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.verifier.Verify(bearerToken(r))
		if err != nil {
			s.writeError(w, core.ErrUnauthorized)
			return
		}
		next(w, r, identity)
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return token
	}
	return ""
}

const (
	defaultConversationPageSize = 50
	defaultMessagePageSize      = 100
)

type sendMessageRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type sendMessageResponse struct {
	ConversationID string        `json:"conversation_id"`
	Message        *core.Message `json:"message"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request, identity *auth.Identity) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, core.NewValidationError("body", "invalid JSON"))
		return
	}

	reply, err := s.orchestrator.SendMessage(r.Context(), identity.UserID, req.ConversationID, req.Message)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sendMessageResponse{
		ConversationID: reply.ConversationID,
		Message:        reply.Message,
	})
}

// handleSendMessageStream replies with Server-Sent Events, one JSON frame per
// event. Malformed request bodies are rejected as plain JSON before the stream
// starts; every failure after that, including turn setup (unknown
// conversation, empty message), is delivered as a terminal error frame on an
// already-open 200 stream.
func (s *Server) handleSendMessageStream(w http.ResponseWriter, r *http.Request, identity *auth.Identity) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, core.NewValidationError("body", "invalid JSON"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, errors.New("streaming unsupported by connection"))
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, err := s.orchestrator.SendMessageStream(r.Context(), identity.UserID, req.ConversationID, req.Message)
	if err != nil {
		_, detail := s.mapError(err)
		s.writeFrame(w, flusher, chat.StreamEvent{Type: chat.EventError, Detail: detail})
		return
	}

	for event := range events {
		s.writeFrame(w, flusher, event)
	}
}

func (s *Server) writeFrame(w http.ResponseWriter, flusher http.Flusher, event chat.StreamEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("failed to encode stream event", "error", err.Error())
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request, identity *auth.Identity) {
	limit, offset, err := pageParams(r, defaultConversationPageSize)
	if err != nil {
		s.writeError(w, err)
		return
	}
	conversations, err := s.orchestrator.ListConversations(r.Context(), identity.UserID, limit, offset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"conversations": conversations})
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request, identity *auth.Identity) {
	limit, offset, err := pageParams(r, defaultMessagePageSize)
	if err != nil {
		s.writeError(w, err)
		return
	}
	conversationID := r.PathValue("id")
	messages, err := s.orchestrator.GetMessages(r.Context(), identity.UserID, conversationID, limit, offset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"messages":        messages,
		"conversation_id": conversationID,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// pageParams parses limit and offset query parameters. Range validation is
// left to the orchestrator; only unparsable values are rejected here.
func pageParams(r *http.Request, defaultLimit int) (limit, offset int, err error) {
	limit = defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			return 0, 0, core.NewValidationError("limit", "must be an integer")
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil {
			return 0, 0, core.NewValidationError("offset", "must be an integer")
		}
	}
	return limit, offset, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", "error", err.Error())
	}
}

// mapError maps the error taxonomy onto an HTTP status and a safe detail
// string. Internal failures are logged in full but never echoed to the client.
func (s *Server) mapError(err error) (int, string) {
	var verr *core.ValidationError
	switch {
	case errors.Is(err, core.ErrUnauthorized):
		return http.StatusUnauthorized, "Not authenticated"
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Error()
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "Conversation not found"
	default:
		s.logger.Error("request failed", "error", err.Error())
		return http.StatusInternalServerError, "Internal server error"
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, detail := s.mapError(err)
	s.writeJSON(w, status, map[string]string{"detail": detail})
}

// ListenAndServe runs the server at addr until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
