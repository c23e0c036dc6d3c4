// Package notify delivers best-effort notifications about committed trust
// case changes: outbound channels (webhooks, logs) and the in-process live
// feed for connected viewers.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

const (
	TypeCaseWake = "case_wake"

	wakeTitle = "交易已恢復"
	wakeBody  = "您的交易已恢復進行中，歡迎繼續追蹤進度"
)

type Notification struct {
	Type          string  `json:"type"`
	CaseID        string  `json:"caseId"`
	PropertyTitle *string `json:"propertyTitle,omitempty"`
	Title         string  `json:"title"`
	Body          string  `json:"body"`
}

// WakeNotification builds the payload sent when a dormant case is revived.
// A nil property title stays nil.
func WakeNotification(caseID string, propertyTitle *string) Notification {
	title := wakeTitle
	if propertyTitle != nil && *propertyTitle != "" {
		title = *propertyTitle + " " + wakeTitle
	}
	return Notification{
		Type:          TypeCaseWake,
		CaseID:        caseID,
		PropertyTitle: propertyTitle,
		Title:         title,
		Body:          wakeBody,
	}
}

type Channel interface {
	Name() string
	Notify(ctx context.Context, n Notification) error
}

// configurable is implemented by channels that may have no destination,
// like a webhook channel with an empty hook list.
type configurable interface {
	Configured() bool
}

// Dispatcher fans a notification out to every configured channel. A failing
// channel does not stop the others. Fallback is used only when no channel is
// configured.
type Dispatcher struct {
	Channels []Channel
	Fallback Channel
	Logger   *slog.Logger
}

func (d Dispatcher) active() []Channel {
	var out []Channel
	for _, ch := range d.Channels {
		if c, ok := ch.(configurable); ok && !c.Configured() {
			continue
		}
		out = append(out, ch)
	}
	if len(out) == 0 && d.Fallback != nil {
		out = append(out, d.Fallback)
	}
	return out
}

func (d Dispatcher) Dispatch(ctx context.Context, n Notification) error {
	var errs []error
	for _, ch := range d.active() {
		if err := ch.Notify(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
			continue
		}
		if d.Logger != nil {
			d.Logger.Debug("notification delivered", "channel", ch.Name(), "case_id", n.CaseID, "type", n.Type)
		}
	}
	return errors.Join(errs...)
}

// LogChannel writes notifications to the structured log. It is the fallback
// when no webhook is configured.
type LogChannel struct {
	Logger *slog.Logger
}

func (LogChannel) Name() string { return "log" }

func (c LogChannel) Notify(_ context.Context, n Notification) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"type", n.Type, "case_id", n.CaseID, "title", n.Title}
	if n.PropertyTitle != nil {
		attrs = append(attrs, "property_title", *n.PropertyTitle)
	}
	logger.Info("notification", attrs...)
	return nil
}
