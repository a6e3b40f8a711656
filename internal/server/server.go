// Package server exposes the submission pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/placeflow/relay/internal/email"
	"github.com/placeflow/relay/internal/host"
	"github.com/placeflow/relay/internal/submit"
)

// shutdownTimeout is the maximum time to wait for in-flight requests
// during graceful shutdown.
const shutdownTimeout = 30 * time.Second

// ServerConfig holds the configuration for the HTTP front end.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., ":8085").
	ListenAddr string

	// Orchestrator runs the submission pipeline.
	Orchestrator *submit.Orchestrator
}

// Server accepts submission requests and delegates to the orchestrator.
type Server struct {
	config   ServerConfig
	listener net.Listener
}

// New creates a new HTTP Server with the given configuration.
func New(cfg ServerConfig) *Server {
	return &Server{config: cfg}
}

// ListenAndServe starts the server and blocks until the context is
// cancelled, then drains in-flight requests for up to 30 seconds.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/submissions", s.handleSubmit)
	mux.HandleFunc("POST /v1/forwards", s.handleRetryForward)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	srv := &http.Server{Handler: mux}

	slog.Info("HTTP server listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		slog.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("shutdown timeout reached, forcing close", "error", err)
		}
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// submissionRequest is the JSON body of POST /v1/submissions.
type submissionRequest struct {
	ProductCode string         `json:"productCode"`
	Forward     bool           `json:"forward"`
	Item        submissionItem `json:"item"`
}

// submissionItem carries the source email and its addressing identity.
type submissionItem struct {
	HostID            string    `json:"hostId,omitempty"`
	ConversationID    string    `json:"conversationId,omitempty"`
	InternetMessageID string    `json:"internetMessageId,omitempty"`
	IsDraft           bool      `json:"isDraft,omitempty"`
	Account           string    `json:"account"`
	From              string    `json:"from"`
	To                []string  `json:"to,omitempty"`
	Cc                []string  `json:"cc,omitempty"`
	Subject           string    `json:"subject"`
	TextBody          string    `json:"textBody,omitempty"`
	HtmlBody          string    `json:"htmlBody,omitempty"`
	Received          time.Time `json:"received,omitempty"`

	Attachments []submissionAttachment `json:"attachments,omitempty"`
}

// submissionAttachment is one attachment in a submission request.
type submissionAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Content     []byte `json:"content"`
	Inline      bool   `json:"inline,omitempty"`
}

// retryForwardRequest is the JSON body of POST /v1/forwards: the minimal
// state a client persisted from a prior partial failure.
type retryForwardRequest struct {
	PlacementID   string `json:"placementId"`
	GraphItemID   string `json:"graphItemId"`
	SharedMailbox string `json:"sharedMailbox,omitempty"`
}

// handleSubmit runs the full submission pipeline for one item.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProductCode == "" {
		writeError(w, http.StatusBadRequest, "productCode is required")
		return
	}

	item := req.Item.toHostItem()
	result, err := s.config.Orchestrator.Submit(r.Context(), item, req.ProductCode, req.Forward)
	if err != nil {
		slog.Error("submission failed", "product_code", req.ProductCode, "error", err)
		if result == nil {
			result = &submit.Result{}
		}
		result.Error = err.Error()
		writeJSON(w, http.StatusBadGateway, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleRetryForward re-runs the forwarding step from persisted state.
func (s *Server) handleRetryForward(w http.ResponseWriter, r *http.Request) {
	var req retryForwardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PlacementID == "" || req.GraphItemID == "" {
		writeError(w, http.StatusBadRequest, "placementId and graphItemId are required")
		return
	}

	result, err := s.config.Orchestrator.RetryForward(r.Context(), req.PlacementID, req.GraphItemID, req.SharedMailbox)
	if err != nil {
		slog.Error("forward retry failed", "placement_id", req.PlacementID, "error", err)
		if result == nil {
			result = &submit.Result{}
		}
		result.Error = err.Error()
		writeJSON(w, http.StatusBadGateway, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// toHostItem converts the request payload into the host item collaborator
// the orchestrator consumes.
func (i submissionItem) toHostItem() *host.MemoryItem {
	attachments := make([]email.Attachment, 0, len(i.Attachments))
	for _, att := range i.Attachments {
		attachments = append(attachments, email.Attachment{
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Content:     att.Content,
			Inline:      att.Inline,
		})
	}

	return &host.MemoryItem{
		HostID:      i.HostID,
		Draft:       i.IsDraft,
		AccountAddr: i.Account,
		Msg: email.Email{
			From:              i.From,
			To:                i.To,
			Cc:                i.Cc,
			Subject:           i.Subject,
			TextBody:          i.TextBody,
			HtmlBody:          i.HtmlBody,
			Attachments:       attachments,
			InternetMessageID: i.InternetMessageID,
			ConversationID:    i.ConversationID,
			Received:          i.Received,
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
