package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mediarelay/internal/config"
	"mediarelay/internal/queue"
)

const userAgent = "mediarelay/0.1.0"

// Service defines the notification surface used by the worker and daemon.
type Service interface {
	NotifyJobFailed(ctx context.Context, job *queue.Job, status queue.Status) error
	NotifyWorkerStopped(ctx context.Context, err error) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := cfg.Notifications.RequestTimeoutDuration()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
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
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, job *queue.Job, status queue.Status) error {
	if job == nil {
		return nil
	}
	name := strings.TrimSpace(job.Name)
	if name == "" {
		name = "(unnamed)"
	}
	var builder strings.Builder
	fmt.Fprintf(&builder, "❌ %s (source %d) is %s", name, job.SourceID, status)
	if status == queue.StatusErrored {
		fmt.Fprintf(&builder, " after %d attempts", job.Attempts)
	}
	if msg := strings.TrimSpace(job.ExceptionMessage); msg != "" {
		builder.WriteString(": ")
		builder.WriteString(msg)
	}

	data := payload{
		title:    "mediarelay - Job Failed",
		message:  builder.String(),
		tags:     []string{"mediarelay", "job", status.String()},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyWorkerStopped(ctx context.Context, err error) error {
	message := "⛔ Worker stopped"
	if err != nil {
		message += ": " + strings.TrimSpace(err.Error())
	}
	data := payload{
		title:    "mediarelay - Worker Stopped",
		message:  message,
		tags:     []string{"mediarelay", "error", "alert"},
		priority: "urgent",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "mediarelay - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"mediarelay", "test"},
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

func (noopService) NotifyJobFailed(context.Context, *queue.Job, queue.Status) error { return nil }
func (noopService) NotifyWorkerStopped(context.Context, error) error                { return nil }
func (noopService) TestNotification(context.Context) error                          { return nil }
