package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"trustroom/internal/config"
	tel "trustroom/internal/otel"
)

const defaultWebhookTimeout = 5 * time.Second

// WebhookChannel POSTs notifications as JSON to every active configured
// webhook. The hook list can be swapped at runtime.
type WebhookChannel struct {
	// Tracer, when set, wraps each delivery in a client span.
	Tracer trace.Tracer

	client *http.Client
	hooks  atomic.Pointer[[]config.WebhookConfig]
}

func NewWebhookChannel(hooks []config.WebhookConfig) *WebhookChannel {
	c := &WebhookChannel{client: &http.Client{Timeout: defaultWebhookTimeout}}
	c.SetHooks(hooks)
	return c
}

func (c *WebhookChannel) SetHooks(hooks []config.WebhookConfig) {
	cp := append([]config.WebhookConfig(nil), hooks...)
	c.hooks.Store(&cp)
}

func (c *WebhookChannel) Name() string { return "webhook" }

// Configured reports whether any hook is active.
func (c *WebhookChannel) Configured() bool {
	hooks := c.hooks.Load()
	if hooks == nil {
		return false
	}
	for _, h := range *hooks {
		if h.Active() {
			return true
		}
	}
	return false
}

func (c *WebhookChannel) Notify(ctx context.Context, n Notification) error {
	hooks := c.hooks.Load()
	if hooks == nil {
		return nil
	}
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	delivery := uuid.NewString()
	var errs []error
	for _, hook := range *hooks {
		if !hook.Active() || !newEventFilter(hook.Events).match(n.Type) {
			continue
		}
		if err := c.post(ctx, hook, n, delivery, data); err != nil {
			errs = append(errs, fmt.Errorf("deliver to %s: %w", hook.URL, err))
		}
	}
	return errors.Join(errs...)
}

func (c *WebhookChannel) post(ctx context.Context, hook config.WebhookConfig, n Notification, delivery string, data []byte) (err error) {
	if c.Tracer != nil {
		var span trace.Span
		ctx, span = tel.StartClientSpan(ctx, c.Tracer, "webhook.deliver",
			tel.AttrCaseID.String(n.CaseID),
			attribute.String("webhook.event", n.Type),
			attribute.String("webhook.delivery", delivery),
		)
		defer func() {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "delivery failed")
			}
			span.End()
		}()
	}
	client := c.client
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != client.Timeout {
			client = &http.Client{Timeout: timeout}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Trustroom-Event", n.Type)
	req.Header.Set("X-Trustroom-Delivery", delivery)
	req.Header.Set("X-Trustroom-Case", n.CaseID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Trustroom-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
