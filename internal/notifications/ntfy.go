package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"livestreamdvr/internal/config"
)

const userAgent = "livestreamdvr/0.1"

// NewService builds the notifier for the daemon: the bus always, plus ntfy
// when a topic is configured.
func NewService(cfg *config.Config, bus *Bus) Notifier {
	var out Multi
	if bus != nil {
		out = append(out, bus)
	}
	if cfg != nil && strings.TrimSpace(cfg.Notifications.NtfyTopic) != "" {
		out = append(out, NewNtfy(cfg.Notifications))
	}
	switch len(out) {
	case 0:
		return Noop{}
	case 1:
		return out[0]
	}
	return out
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

// Ntfy posts VOD transitions and failures to an ntfy topic URL. Job
// progress events are ignored.
type Ntfy struct {
	endpoint    string
	client      *http.Client
	transitions bool
	failures    bool
}

// NewNtfy creates an ntfy sender from notification settings.
func NewNtfy(cfg config.Notifications) *Ntfy {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Ntfy{
		endpoint:    strings.TrimSpace(cfg.NtfyTopic),
		client:      &http.Client{Timeout: timeout},
		transitions: cfg.VODTransitions,
		failures:    cfg.Failures,
	}
}

func (n *Ntfy) Publish(ctx context.Context, event Event) error {
	data, ok := n.format(event)
	if !ok {
		return nil
	}
	return n.send(ctx, data)
}

func (n *Ntfy) format(event Event) (payload, bool) {
	name := strings.TrimSpace(event.Basename)
	if name == "" {
		name = event.VODUUID
	}
	switch event.Kind {
	case KindVODTransition:
		if !n.transitions {
			return payload{}, false
		}
		data := payload{
			title:   "LiveStreamDVR - " + transitionTitle(event.To),
			message: fmt.Sprintf("%s: %s → %s", name, orUnknown(event.From), orUnknown(event.To)),
			tags:    []string{"livestreamdvr", "vod", event.To},
		}
		if event.To == "finalized" {
			data.priority = "high"
		}
		return data, true
	case KindVODFailed:
		if !n.failures {
			return payload{}, false
		}
		msg := strings.TrimSpace(event.Message)
		if msg == "" {
			msg = "unknown error"
		}
		return payload{
			title:    "LiveStreamDVR - Failed",
			message:  fmt.Sprintf("❌ %s: %s", name, msg),
			tags:     []string{"livestreamdvr", "vod", "error"},
			priority: "high",
		}, true
	default:
		return payload{}, false
	}
}

func transitionTitle(to string) string {
	switch to {
	case "capturing":
		return "Capture Started"
	case "converting":
		return "Converting"
	case "finalized":
		return "Finalized"
	default:
		return "VOD Update"
	}
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}

func (n *Ntfy) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil || n.endpoint == "" {
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
	if data.priority != "" {
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
