// Package notify fans one pipeline event out to a project's configured
// notification channels. Delivery is best effort per channel; the job only
// errors (and re-queues) when every matching channel fails.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"log/slog"

	"github.com/BimaPangestu28/Syntra-sub003/internal/domain"
	"github.com/BimaPangestu28/Syntra-sub003/internal/queue"
	"github.com/BimaPangestu28/Syntra-sub003/internal/repository"
)

// ErrAllChannelsFailed reports that no matching channel accepted the
// notification.
var ErrAllChannelsFailed = errors.New("notify: all matching channels failed")

// Worker consumes notification jobs.
type Worker struct {
	channels repository.ChannelRepository
	services repository.ServiceRepository
	client   *http.Client
	smtpAddr string
	smtpFrom string
	logger   *slog.Logger

	// sendMail is swappable for tests.
	sendMail func(addr, from string, to []string, msg []byte) error
}

// NewWorker wires the fan-out worker. The http timeout bounds every
// outbound webhook-style delivery.
func NewWorker(channels repository.ChannelRepository, services repository.ServiceRepository, httpTimeout time.Duration, smtpAddr, smtpFrom string, logger *slog.Logger) *Worker {
	return &Worker{
		channels: channels,
		services: services,
		client:   &http.Client{Timeout: httpTimeout},
		smtpAddr: smtpAddr,
		smtpFrom: smtpFrom,
		logger:   logger.With("component", "notify"),
		sendMail: func(addr, from string, to []string, msg []byte) error {
			return smtp.SendMail(addr, nil, from, to, msg)
		},
	}
}

// Handle is the queue handler for notification jobs.
func (w *Worker) Handle(ctx context.Context, payload []byte) error {
	var data queue.NotificationJobData
	if err := json.Unmarshal(payload, &data); err != nil {
		w.logger.Error("malformed notification job dropped", "error", err)
		return nil
	}

	projectID := data.ProjectID
	if projectID == "" && data.ServiceID != "" {
		service, err := w.services.GetServiceByID(ctx, data.ServiceID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				w.logger.Warn("notification for unknown service dropped", "service_id", data.ServiceID)
				return nil
			}
			return fmt.Errorf("resolve project: %w", err)
		}
		projectID = service.ProjectID
	}
	if projectID == "" {
		w.logger.Warn("notification without project dropped", "type", data.Type)
		return nil
	}

	configured, err := w.channels.ListChannelsByProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}
	matching := matchChannels(configured, data.Channels)
	if len(matching) == 0 {
		w.logger.Debug("no matching channels", "project_id", projectID, "type", data.Type)
		return nil
	}

	delivered := 0
	for _, channel := range matching {
		if err := w.deliver(ctx, channel, data); err != nil {
			w.logger.Warn("channel delivery failed", "channel_id", channel.ID, "kind", channel.Kind, "error", err)
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return fmt.Errorf("%w: %s to project %s", ErrAllChannelsFailed, data.Type, projectID)
	}
	w.logger.Info("notification delivered", "type", data.Type, "project_id", projectID, "channels", delivered, "attempted", len(matching))
	return nil
}

// matchChannels filters configured channels to the enabled ones whose
// kind falls in one of the requested categories.
func matchChannels(configured []domain.NotificationChannel, categories []domain.ChannelCategory) []domain.NotificationChannel {
	wanted := make(map[domain.ChannelCategory]bool, len(categories))
	for _, c := range categories {
		wanted[c] = true
	}
	var matched []domain.NotificationChannel
	for _, channel := range configured {
		if channel.Enabled && wanted[channel.Kind.Category()] {
			matched = append(matched, channel)
		}
	}
	return matched
}

// deliver routes to the kind-specific sender. The switch is exhaustive
// over the closed ChannelKind enum.
func (w *Worker) deliver(ctx context.Context, channel domain.NotificationChannel, data queue.NotificationJobData) error {
	switch channel.Kind {
	case domain.ChannelSlack:
		return w.postJSON(ctx, channel.Target, map[string]any{"text": data.Message})
	case domain.ChannelDiscord:
		return w.postJSON(ctx, channel.Target, map[string]any{"content": data.Message})
	case domain.ChannelWebhook:
		return w.postJSON(ctx, channel.Target, map[string]any{
			"type":          data.Type,
			"deployment_id": data.DeploymentID,
			"service_id":    data.ServiceID,
			"message":       data.Message,
			"timestamp":     time.Now().UTC().Format(time.RFC3339),
		})
	case domain.ChannelPagerDuty:
		url := channel.Target
		if idx := strings.LastIndex(url, "#"); idx >= 0 {
			url = url[:idx]
		}
		return w.postJSON(ctx, url, map[string]any{
			"routing_key":  pagerdutyRoutingKey(channel.Target),
			"event_action": "trigger",
			"payload": map[string]any{
				"summary":  data.Message,
				"source":   "syntra",
				"severity": pagerdutySeverity(data.Type),
			},
		})
	case domain.ChannelEmail:
		return w.email(channel.Target, data)
	default:
		return fmt.Errorf("unknown channel kind %q", channel.Kind)
	}
}

func (w *Worker) postJSON(ctx context.Context, url string, body any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("notification endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (w *Worker) email(recipient string, data queue.NotificationJobData) error {
	if w.smtpAddr == "" {
		return fmt.Errorf("smtp is not configured")
	}
	subject := "Syntra: " + strings.ReplaceAll(data.Type, "_", " ")
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", w.smtpFrom, recipient, subject, data.Message)
	if err := w.sendMail(w.smtpAddr, w.smtpFrom, []string{recipient}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// pagerdutyRoutingKey extracts an optional routing key from a target of
// the form "url#key"; the PagerDuty events URL itself carries no key.
func pagerdutyRoutingKey(target string) string {
	if idx := strings.LastIndex(target, "#"); idx >= 0 {
		return target[idx+1:]
	}
	return ""
}

func pagerdutySeverity(eventType string) string {
	if strings.Contains(eventType, "failed") || strings.Contains(eventType, "aborted") {
		return "error"
	}
	return "info"
}
