package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"trackguard/internal/config"
)

const userAgent = "TrackGuard-Go/0.1.0"

// Service defines the notification surface exposed to the engine.
type Service interface {
	NotifyProtected(ctx context.Context, trackName, trackID string) error
	NotifyViolation(ctx context.Context, trackName, trackID, duplicateInfo string) error
	NotifyDegraded(ctx context.Context, trackID string) error
	NotifyError(ctx context.Context, err error, context string) error
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
		endpoint:         topic,
		client:           &http.Client{Timeout: timeout},
		notifyProtected:  cfg.Notifications.Protected,
		notifyViolations: cfg.Notifications.Violations,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint         string
	client           *http.Client
	notifyProtected  bool
	notifyViolations bool
}

func (n *ntfyService) NotifyProtected(ctx context.Context, trackName, trackID string) error {
	if !n.notifyProtected {
		return nil
	}
	trackName = strings.TrimSpace(trackName)
	if trackName == "" {
		trackName = "track " + trackID
	}
	data := payload{
		title:   "TrackGuard - Protected",
		message: fmt.Sprintf("Fingerprint stored for %s", trackName),
		tags:    []string{"trackguard", "fingerprint", "protected"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyViolation(ctx context.Context, trackName, trackID, duplicateInfo string) error {
	if !n.notifyViolations {
		return nil
	}
	trackName = strings.TrimSpace(trackName)
	if trackName == "" {
		trackName = "track " + trackID
	}
	message := fmt.Sprintf("Duplicate content detected for %s", trackName)
	if duplicateInfo = strings.TrimSpace(duplicateInfo); duplicateInfo != "" {
		message = fmt.Sprintf("%s\nOriginal: %s", message, duplicateInfo)
	}
	data := payload{
		title:    "TrackGuard - Duplicate Content",
		message:  message,
		tags:     []string{"trackguard", "violation", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDegraded(ctx context.Context, trackID string) error {
	data := payload{
		title:   "TrackGuard - Degraded Check",
		message: fmt.Sprintf("Track %s stored without duplicate verification; the pre-check endpoint was unreachable", trackID),
		tags:    []string{"trackguard", "degraded"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "TrackGuard - Error",
		message:  builder.String(),
		tags:     []string{"trackguard", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "TrackGuard - Test",
		message:  "Notification system test",
		tags:     []string{"trackguard", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
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

func (noopService) NotifyProtected(context.Context, string, string) error         { return nil }
func (noopService) NotifyViolation(context.Context, string, string, string) error { return nil }
func (noopService) NotifyDegraded(context.Context, string) error                  { return nil }
func (noopService) NotifyError(context.Context, error, string) error              { return nil }
func (noopService) TestNotification(context.Context) error                        { return nil }
