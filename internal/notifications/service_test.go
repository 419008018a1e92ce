package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"streamkeeper/internal/config"
	"streamkeeper/internal/notifications"
)

type captured struct {
	title, tags, priority, body string
}

func newNtfy(t *testing.T, status int) (*httptest.Server, *[]captured) {
	t.Helper()
	var got []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = append(got, captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyRelayOutage(context.Background(), errors.New("boom")); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		send           func(notifications.Service) error
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name: "stream unrecoverable",
			send: func(s notifications.Service) error {
				return s.NotifyStreamUnrecoverable(context.Background(), "rode_ai_micro", 10, "exit status 1")
			},
			expectTitle:    "streamkeeper - Stream Down",
			expectMessage:  "Stream rode_ai_micro stopped after 10 restarts\nLast error: exit status 1",
			expectTags:     "streamkeeper,stream,degraded",
			expectPriority: "high",
		},
		{
			name: "relay restarted",
			send: func(s notifications.Service) error {
				return s.NotifyRelayRestarted(context.Background(), 1, 3)
			},
			expectTitle:   "streamkeeper - Relay Restarted",
			expectMessage: "Relay server was down and has been restarted (attempt 1 of 3)",
			expectTags:    "streamkeeper,relay,restarted",
		},
		{
			name: "relay outage",
			send: func(s notifications.Service) error {
				return s.NotifyRelayOutage(context.Background(), errors.New("port 8554 in use"))
			},
			expectTitle:    "streamkeeper - Relay Outage",
			expectMessage:  "Relay server could not be restarted; streamkeeper is shutting down\nport 8554 in use",
			expectTags:     "streamkeeper,relay,alert",
			expectPriority: "urgent",
		},
		{
			name:           "test",
			send:           func(s notifications.Service) error { return s.TestNotification(context.Background()) },
			expectTitle:    "streamkeeper - Test",
			expectMessage:  "Notification system test",
			expectTags:     "streamkeeper,test",
			expectPriority: "low",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, got := newNtfy(t, http.StatusOK)
			cfg := config.Default()
			cfg.Notifications.NtfyTopic = srv.URL
			if err := tt.send(notifications.NewService(&cfg)); err != nil {
				t.Fatalf("send: %v", err)
			}
			if len(*got) != 1 {
				t.Fatalf("expected 1 request, got %d", len(*got))
			}
			req := (*got)[0]
			if req.title != tt.expectTitle || req.body != tt.expectMessage || req.tags != tt.expectTags || req.priority != tt.expectPriority {
				t.Fatalf("unexpected request %+v", req)
			}
		})
	}
}

func TestNtfyServiceHonorsCategoryToggles(t *testing.T) {
	srv, got := newNtfy(t, http.StatusOK)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	cfg.Notifications.Degraded = false
	cfg.Notifications.Relay = false
	svc := notifications.NewService(&cfg)

	_ = svc.NotifyStreamUnrecoverable(context.Background(), "s", 1, "")
	_ = svc.NotifyRelayRestarted(context.Background(), 1, 3)
	if len(*got) != 0 {
		t.Fatalf("expected disabled categories to be silent, got %d requests", len(*got))
	}
	if err := svc.TestNotification(context.Background()); err != nil || len(*got) != 1 {
		t.Fatalf("test notification must always send: err=%v requests=%d", err, len(*got))
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	srv, _ := newNtfy(t, http.StatusForbidden)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	err := notifications.NewService(&cfg).TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}
