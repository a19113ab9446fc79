package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestClientSendMessage(t *testing.T) {
	var received SendRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/PNID/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test_token" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Error(err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","contacts":[{"input":"919876543210","wa_id":"919876543210"}],"messages":[{"id":"wamid.OUT1"}]}`))
	}))
	defer server.Close()

	client := NewClient("test_token", "PNID")
	client.SetGraphAPIBase(server.URL + "/")

	id, err := client.SendMessage(context.Background(), "919876543210", "Hello there")
	if err != nil {
		t.Fatal(err)
	}
	if id != "wamid.OUT1" {
		t.Errorf("id = %s, want wamid.OUT1", id)
	}
	if received.To != "919876543210" || received.Text.Body != "Hello there" || received.MessagingProduct != "whatsapp" {
		t.Errorf("unexpected request %+v", received)
	}
}

func TestClientSendMessageWithoutID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","messages":[]}`))
	}))
	defer server.Close()

	client := NewClient("token", "PNID")
	client.SetGraphAPIBase(server.URL)
	id, err := client.SendMessage(context.Background(), "911", "hi")
	if err != nil || id != "" {
		t.Fatalf("expected empty id and no error, got %q err=%v", id, err)
	}
}

func TestClientSendMessageErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		payload string
	}{
		{"api error", http.StatusBadRequest, `{"error":{"message":"Invalid parameter","type":"OAuthException","code":100}}`},
		{"server error", http.StatusBadGateway, `<html>bad gateway</html>`},
		{"non-2xx without error object", http.StatusInternalServerError, `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.payload))
			}))
			defer server.Close()

			client := NewClient("token", "PNID")
			client.SetGraphAPIBase(server.URL)
			if _, err := client.SendMessage(context.Background(), "911", "hi"); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestClientNotConfigured(t *testing.T) {
	if _, err := NewClient("", "PNID").SendMessage(context.Background(), "911", "hi"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestClientErrorBodyTruncatedOnRuneBoundary(t *testing.T) {
	// 255 ASCII bytes put the 256-byte cut inside the first two-byte rune
	payload := strings.Repeat("a", 255) + strings.Repeat("é", 20)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(payload))
	}))
	defer server.Close()

	client := NewClient("token", "PNID")
	client.SetGraphAPIBase(server.URL)
	_, err := client.SendMessage(context.Background(), "911", "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	if !utf8.ValidString(err.Error()) {
		t.Fatalf("error text is not valid UTF-8: %q", err.Error())
	}
	if !strings.HasSuffix(err.Error(), strings.Repeat("a", 255)+"...") {
		t.Fatalf("expected cut before the split rune, got %q", err.Error())
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "hi", 5, "hi"},
		{"ascii", "abcdef", 3, "abc..."},
		{"inside multibyte rune", "aé", 2, "a..."},
		{"on rune boundary", "éé", 2, "é..."},
		{"four-byte rune", "x😀", 3, "x..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.n)
			if got != tt.want {
				t.Fatalf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Fatalf("truncate(%q, %d) produced invalid UTF-8", tt.in, tt.n)
			}
		})
	}
}
