package sms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebhookSenderPostsJSON(t *testing.T) {
	var got map[string]string
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, " secret ")
	if err := s.Send(context.Background(), "+15550001111", "code 1234"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got["to"] != "+15550001111" || got["body"] != "code 1234" {
		t.Fatalf("unexpected payload: %v", got)
	}
	if auth != "Bearer secret" {
		t.Fatalf("unexpected auth header %q", auth)
	}
}

func TestWebhookSenderRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewWebhookSender(srv.URL, "").Send(context.Background(), "+1", "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewSelectsProvider(t *testing.T) {
	s, err := New("", "", "", nil)
	if err != nil || s.ProviderID() != "sms-log" {
		t.Fatalf("expected log sender, got %v (%v)", s, err)
	}
	if _, err := New("webhook", "", "", nil); err == nil {
		t.Fatal("expected error for webhook without url")
	}
	if _, err := New("carrier-pigeon", "", "", nil); err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if err := s.Send(context.Background(), "+15550001111", "1234"); err != nil {
		t.Fatalf("log send: %v", err)
	}
}

func TestMaskPhone(t *testing.T) {
	if got := maskPhone("+15550001111"); got != "********1111" {
		t.Fatalf("unexpected mask %q", got)
	}
	if got := maskPhone("12"); got != "****" {
		t.Fatalf("unexpected mask %q", got)
	}
}
