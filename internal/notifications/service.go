package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"streamkeeper/internal/config"
)

const userAgent = "streamkeeper/0.1.0"

// Service defines the alert surface used by the orchestrator.
type Service interface {
	NotifyStreamUnrecoverable(ctx context.Context, stream string, restarts int, lastError string) error
	NotifyStreamRecovered(ctx context.Context, stream string) error
	NotifyRelayRestarted(ctx context.Context, attempt, budget int) error
	NotifyRelayOutage(ctx context.Context, err error) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		degraded: cfg.Notifications.Degraded,
		relay:    cfg.Notifications.Relay,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	degraded bool
	relay    bool
}

func (n *ntfyService) NotifyStreamUnrecoverable(ctx context.Context, stream string, restarts int, lastError string) error {
	if !n.degraded {
		return nil
	}
	message := fmt.Sprintf("Stream %s stopped after %d restarts", strings.TrimSpace(stream), restarts)
	if lastError = strings.TrimSpace(lastError); lastError != "" {
		message += "\nLast error: " + lastError
	}
	return n.send(ctx, payload{
		title:    "streamkeeper - Stream Down",
		message:  message,
		tags:     []string{"streamkeeper", "stream", "degraded"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyStreamRecovered(ctx context.Context, stream string) error {
	if !n.degraded {
		return nil
	}
	return n.send(ctx, payload{
		title:   "streamkeeper - Stream Recovered",
		message: fmt.Sprintf("Stream %s is publishing again", strings.TrimSpace(stream)),
		tags:    []string{"streamkeeper", "stream", "recovered"},
	})
}

func (n *ntfyService) NotifyRelayRestarted(ctx context.Context, attempt, budget int) error {
	if !n.relay {
		return nil
	}
	return n.send(ctx, payload{
		title:   "streamkeeper - Relay Restarted",
		message: fmt.Sprintf("Relay server was down and has been restarted (attempt %d of %d)", attempt, budget),
		tags:    []string{"streamkeeper", "relay", "restarted"},
	})
}

func (n *ntfyService) NotifyRelayOutage(ctx context.Context, err error) error {
	if !n.relay {
		return nil
	}
	message := "Relay server could not be restarted; streamkeeper is shutting down"
	if err != nil {
		message += "\n" + strings.TrimSpace(err.Error())
	}
	return n.send(ctx, payload{
		title:    "streamkeeper - Relay Outage",
		message:  message,
		tags:     []string{"streamkeeper", "relay", "alert"},
		priority: "urgent",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "streamkeeper - Test",
		message:  "Notification system test",
		tags:     []string{"streamkeeper", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyStreamUnrecoverable(context.Context, string, int, string) error { return nil }
func (noopService) NotifyStreamRecovered(context.Context, string) error                  { return nil }
func (noopService) NotifyRelayRestarted(context.Context, int, int) error                 { return nil }
func (noopService) NotifyRelayOutage(context.Context, error) error                       { return nil }
func (noopService) TestNotification(context.Context) error                               { return nil }
