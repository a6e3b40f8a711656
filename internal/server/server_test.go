package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/placeflow/relay/internal/auth"
	"github.com/placeflow/relay/internal/forward"
	"github.com/placeflow/relay/internal/graph"
	"github.com/placeflow/relay/internal/resolve"
	"github.com/placeflow/relay/internal/submit"
)

type stubIdentity struct{}

func (stubIdentity) AcquireSilent(ctx context.Context, account string, scopes []string) (*auth.Token, error) {
	return &auth.Token{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (stubIdentity) AcquireInteractive(ctx context.Context, scopes []string) (*auth.Token, error) {
	return &auth.Token{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

// newTestServer wires a Server to an orchestrator backed by local stand-ins
// for the mailbox and submission APIs.
func newTestServer(t *testing.T, placementStatus int) *Server {
	t.Helper()

	graphSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/me/messages/rest-ok":
			io.WriteString(w, `{"id":"rest-ok","subject":"Offer"}`)
		case r.Method == http.MethodPost && r.URL.Path == "/users/claims@example.com/messages":
			w.WriteHeader(http.StatusCreated)
			io.WriteString(w, `{"id":"fwd-1"}`)
		case r.Method == http.MethodPost && r.URL.Path == "/users/claims@example.com/messages/fwd-1/send":
			w.WriteHeader(http.StatusAccepted)
		default:
			t.Errorf("unexpected mailbox API request: %s %s", r.Method, r.URL.Path)
		}
	}))
	t.Cleanup(graphSrv.Close)

	subSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if placementStatus != http.StatusOK {
			w.WriteHeader(placementStatus)
			io.WriteString(w, "rejected")
			return
		}
		io.WriteString(w, `{"placementId":"PL-1","ingestionId":"ING-1","runId":"RUN-1"}`)
	}))
	t.Cleanup(subSrv.Close)

	broker := auth.NewBroker(stubIdentity{}, "me@example.com",
		[]string{"api://submission/.default"},
		[]string{"Mail.ReadWrite"},
	)
	gc := graph.NewClient(graphSrv.URL, graphSrv.Client())
	resolver := resolve.New(gc)
	engine := forward.New(gc, resolver)
	client := submit.NewClient(subSrv.URL, "sub-key", subSrv.Client())
	orchestrator := submit.NewOrchestrator(broker, client, engine, resolver, "claims@example.com")

	return New(ServerConfig{ListenAddr: "127.0.0.1:0", Orchestrator: orchestrator})
}

const submitBody = `{
	"productCode": "prod-1",
	"forward": false,
	"item": {
		"hostId": "rest-ok",
		"account": "me@example.com",
		"from": "sender@example.com",
		"to": ["me@example.com"],
		"subject": "Offer",
		"textBody": "please place this risk"
	}
}`

func TestHandleSubmit_ReturnsResult(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, http.StatusOK)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/submissions", strings.NewReader(submitBody))
	s.handleSubmit(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("content type: got %q, want application/json", got)
	}

	var result submit.Result
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if !result.Success || result.PlacementID != "PL-1" {
		t.Errorf("result: got %+v, want success with PL-1", result)
	}
}

func TestHandleSubmit_RequiresProductCode(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, http.StatusOK)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/submissions", strings.NewReader(`{"item":{"subject":"s"}}`))
	s.handleSubmit(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rec.Code)
	}
}

func TestHandleSubmit_RejectsInvalidJSON(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, http.StatusOK)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/submissions", strings.NewReader("{not json"))
	s.handleSubmit(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rec.Code)
	}
}

func TestHandleSubmit_PlacementFailureIsBadGateway(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, http.StatusForbidden)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/submissions", strings.NewReader(submitBody))
	s.handleSubmit(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status: got %d, want 502", rec.Code)
	}

	var result submit.Result
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if result.Success {
		t.Error("result must not report success")
	}
	if !strings.Contains(result.Error, "placement submission failed") {
		t.Errorf("error reason: got %q, want the placement failure detail", result.Error)
	}
}

func TestHandleRetryForward_Runs(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, http.StatusOK)

	body := `{"placementId":"PL-1","graphItemId":"rest-ok"}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/forwards", strings.NewReader(body))
	s.handleRetryForward(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}

	var result submit.Result
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if !result.Success || result.ForwardingFailed {
		t.Errorf("result: got %+v, want clean retry", result)
	}
}

func TestHandleRetryForward_RequiresIdentifiers(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, http.StatusOK)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/forwards", strings.NewReader(`{"placementId":"PL-1"}`))
	s.handleRetryForward(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, http.StatusOK)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("body: got %q, want health status", rec.Body.String())
	}
}
