package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
)

func TestWebhookSend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("invalid payload: %v", err)
		}
		if payload["title"] != "T" || payload["message"] != "M" || payload["agent"] != "pushhand" {
			t.Errorf("unexpected payload: %v", payload)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	if err := (&Webhook{URL: server.URL}).Send(context.Background(), "T", "M"); err != nil {
		t.Fatalf("webhook send failed: %v", err)
	}
}

func TestSlackSend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload["text"] != "*T*\nM" {
			t.Errorf("unexpected slack payload: %v", payload)
		}
	}))
	defer server.Close()

	if err := (&Slack{WebhookURL: server.URL}).Send(context.Background(), "T", "M"); err != nil {
		t.Fatalf("slack send failed: %v", err)
	}
}

func TestGotifySend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/message" {
			t.Errorf("expected /message, got %s", r.URL.Path)
		}
		if r.Header.Get("X-Gotify-Key") != "tok" {
			t.Errorf("missing gotify key")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	if err := (&Gotify{ServerURL: server.URL + "/", Token: "tok"}).Send(context.Background(), "T", "M"); err != nil {
		t.Fatalf("gotify send failed: %v", err)
	}
}

func TestPostJSONStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	err := (&Webhook{URL: server.URL}).Send(context.Background(), "T", "M")
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestEmailSend(t *testing.T) {
	old := sendMailHook
	t.Cleanup(func() { sendMailHook = old })

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	sendMailHook = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	e := &Email{Host: "mail.local", Port: 2525, User: "bot@example.com", Pass: "p", To: []string{"ops@example.com"}}
	if err := e.Send(context.Background(), "Alert", "body"); err != nil {
		t.Fatalf("email send failed: %v", err)
	}
	if gotAddr != "mail.local:2525" || gotFrom != "bot@example.com" || len(gotTo) != 1 {
		t.Fatalf("unexpected envelope %s %s %v", gotAddr, gotFrom, gotTo)
	}
	if !strings.Contains(string(gotMsg), "Subject: [pushhand] Alert") || !strings.HasSuffix(string(gotMsg), "body") {
		t.Fatalf("unexpected message %q", gotMsg)
	}

	sendMailHook = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("smtp down") }
	if err := e.Send(context.Background(), "Alert", "body"); err == nil {
		t.Fatal("expected smtp error")
	}
}
