package graph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGetMessage_RequestShape(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method: got %s, want GET", r.Method)
		}
		if !strings.HasPrefix(r.URL.Path, "/me/messages/") {
			t.Errorf("path: got %q, want /me/messages/ prefix", r.URL.Path)
		}
		if r.URL.Query().Get("$expand") != "attachments" {
			t.Errorf("$expand: got %q, want %q", r.URL.Query().Get("$expand"), "attachments")
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization: got %q, want %q", got, "Bearer tok-1")
		}
		if r.Header.Get("client-request-id") == "" {
			t.Error("client-request-id header should be set")
		}

		json.NewEncoder(w).Encode(Message{ID: "msg-1", Subject: "hello"})
	}))
	defer server.Close()

	c := NewClient(server.URL, server.Client())

	msg, err := c.GetMessage(context.Background(), "tok-1", Personal(), "msg-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ID != "msg-1" {
		t.Errorf("ID: got %q, want %q", msg.ID, "msg-1")
	}
	if msg.Subject != "hello" {
		t.Errorf("Subject: got %q, want %q", msg.Subject, "hello")
	}
}

func TestGetMessage_SharedMailboxEndpoint(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/users/claims@example.com/messages/") {
			t.Errorf("path: got %q, want /users/claims@example.com/messages/ prefix", r.URL.Path)
		}
		json.NewEncoder(w).Encode(Message{ID: "msg-2"})
	}))
	defer server.Close()

	c := NewClient(server.URL, server.Client())

	if _, err := c.GetMessage(context.Background(), "tok", Shared("claims@example.com"), "msg-2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateMessage_ReturnsCreatedID(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method: got %s, want POST", r.Method)
		}
		if r.URL.Path != "/users/shared@example.com/messages" {
			t.Errorf("path: got %q, want /users/shared@example.com/messages", r.URL.Path)
		}

		var draft Draft
		if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
			t.Fatalf("failed to decode draft: %v", err)
		}
		if draft.Subject != "[PL-1] original" {
			t.Errorf("Subject: got %q, want %q", draft.Subject, "[PL-1] original")
		}

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "created-1"})
	}))
	defer server.Close()

	c := NewClient(server.URL, server.Client())

	id, err := c.CreateMessage(context.Background(), "tok", Shared("shared@example.com"), &Draft{Subject: "[PL-1] original"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "created-1" {
		t.Errorf("id: got %q, want %q", id, "created-1")
	}
}

func TestSendMessage_PostsToSendAction(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me/messages/msg-9/send" {
			t.Errorf("path: got %q, want /me/messages/msg-9/send", r.URL.Path)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	c := NewClient(server.URL, server.Client())

	if err := c.SendMessage(context.Background(), "tok", Personal(), "msg-9"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFindFolderMessages_QueryEncoding(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me/mailFolders('drafts')/messages" {
			t.Errorf("path: got %q, want drafts folder path", r.URL.Path)
		}
		q := r.URL.Query()
		if got := q.Get("$filter"); got != "conversationId eq 'conv-1'" {
			t.Errorf("$filter: got %q, want %q", got, "conversationId eq 'conv-1'")
		}
		if got := q.Get("$top"); got != "1" {
			t.Errorf("$top: got %q, want %q", got, "1")
		}

		json.NewEncoder(w).Encode(listResponse{Value: []Message{{ID: "found-1"}}})
	}))
	defer server.Close()

	c := NewClient(server.URL, server.Client())

	msgs, err := c.FindFolderMessages(context.Background(), "tok", Personal(), "drafts", Query{
		Filter: "conversationId eq 'conv-1'",
		Top:    1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "found-1" {
		t.Errorf("messages: got %+v, want one message found-1", msgs)
	}
}

func TestTranslateIDs_PreservesInputOrder(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me/translateExchangeIds" {
			t.Errorf("path: got %q, want /me/translateExchangeIds", r.URL.Path)
		}

		var req translateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.SourceIDType != "ewsId" || req.TargetIDType != "restId" {
			t.Errorf("id types: got %s->%s, want ewsId->restId", req.SourceIDType, req.TargetIDType)
		}

		// Respond out of order; the client must re-align by source id.
		json.NewEncoder(w).Encode(translateResponse{Value: []translatedID{
			{SourceID: "ews-b", TargetID: "rest-b"},
			{SourceID: "ews-a", TargetID: "rest-a"},
		}})
	}))
	defer server.Close()

	c := NewClient(server.URL, server.Client())

	out, err := c.TranslateIDs(context.Background(), "tok", []string{"ews-a", "ews-b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0] != "rest-a" || out[1] != "rest-b" {
		t.Errorf("translated: got %v, want [rest-a rest-b]", out)
	}
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		code      string
		check     func(error) bool
		checkName string
	}{
		{"not found by status", http.StatusNotFound, "", IsNotFound, "IsNotFound"},
		{"not found by code", http.StatusBadRequest, "ErrorItemNotFound", IsNotFound, "IsNotFound"},
		{"malformed id", http.StatusBadRequest, "ErrorInvalidIdMalformed", IsMalformedID, "IsMalformedID"},
		{"mailbox mismatch", http.StatusForbidden, "ErrorAccessDenied", IsMailboxMismatch, "IsMailboxMismatch"},
		{"server error", http.StatusServiceUnavailable, "", IsParseOrServer, "IsParseOrServer"},
		{"transient", http.StatusServiceUnavailable, "", IsTransient, "IsTransient"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(apiErrorResponse{Error: apiErrorDetail{Code: tt.code, Message: "boom"}})
			}))
			defer server.Close()

			c := NewClient(server.URL, server.Client())

			_, err := c.GetMessage(context.Background(), "tok", Personal(), "id")
			if err == nil {
				t.Fatal("expected error")
			}
			if !tt.check(err) {
				t.Errorf("%s(%v) = false, want true", tt.checkName, err)
			}
		})
	}
}

func TestErrorClassification_MismatchByMessage(t *testing.T) {
	t.Parallel()

	err := classifyError(http.StatusNotFound, "ErrorItemNotFound", "The requested item does not belong to the targeted mailbox")
	if !IsMailboxMismatch(err) {
		t.Error("IsMailboxMismatch should match on the error message")
	}
}

func TestDo_ParseFailureIsClassified(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all"))
	}))
	defer server.Close()

	c := NewClient(server.URL, server.Client())

	_, err := c.GetMessage(context.Background(), "tok", Personal(), "id")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsParseOrServer(err) {
		t.Errorf("IsParseOrServer(%v) = false, want true", err)
	}
}

func TestEscapeFilterValue(t *testing.T) {
	t.Parallel()

	got := EscapeFilterValue("O'Brien's offer")
	want := "O''Brien''s offer"
	if got != want {
		t.Errorf("escaped: got %q, want %q", got, want)
	}
}
