package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"trustroom/internal/config"
)

func TestWakeNotificationKeepsNilTitle(t *testing.T) {
	n := WakeNotification("c1", nil)
	if n.PropertyTitle != nil {
		t.Fatalf("property title should stay nil")
	}
	if n.Title != "交易已恢復" || n.Body != "您的交易已恢復進行中，歡迎繼續追蹤進度" {
		t.Fatalf("unexpected message: %+v", n)
	}
	data, _ := json.Marshal(n)
	if strings.Contains(string(data), "propertyTitle") {
		t.Fatalf("nil title must be omitted from payload: %s", data)
	}
	title := "信義區三房"
	n = WakeNotification("c1", &title)
	if n.Title != "信義區三房 交易已恢復" || n.PropertyTitle == nil || *n.PropertyTitle != title {
		t.Fatalf("unexpected titled message: %+v", n)
	}
}

type recordingChannel struct {
	name string
	err  error
	mu   sync.Mutex
	got  []Notification
}

func (r *recordingChannel) Name() string { return r.name }
func (r *recordingChannel) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return r.err
}

func TestDispatcherContinuesPastFailures(t *testing.T) {
	failing := &recordingChannel{name: "broken", err: errors.New("boom")}
	ok := &recordingChannel{name: "ok"}
	d := Dispatcher{Channels: []Channel{failing, ok}}
	err := d.Dispatch(context.Background(), WakeNotification("c1", nil))
	if err == nil || !strings.Contains(err.Error(), "broken") {
		t.Fatalf("expected joined error naming the channel, got %v", err)
	}
	if len(ok.got) != 1 {
		t.Fatalf("healthy channel should still receive the notification")
	}
}

func TestDispatcherFallsBackWithoutWebhooks(t *testing.T) {
	fallback := &recordingChannel{name: "log"}
	webhooks := NewWebhookChannel(nil)
	d := Dispatcher{Channels: []Channel{webhooks}, Fallback: fallback}
	if err := d.Dispatch(context.Background(), WakeNotification("c1", nil)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(fallback.got) != 1 {
		t.Fatalf("fallback should receive the notification when no hook is set")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	webhooks.SetHooks([]config.WebhookConfig{{URL: srv.URL}})
	if err := d.Dispatch(context.Background(), WakeNotification("c2", nil)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(fallback.got) != 1 {
		t.Fatalf("fallback must stay quiet once a hook is configured, got %d", len(fallback.got))
	}
}

func TestWebhookChannelDelivers(t *testing.T) {
	var mu sync.Mutex
	var headers http.Header
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		headers = r.Header.Clone()
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	disabled := false
	ch := NewWebhookChannel([]config.WebhookConfig{
		{URL: srv.URL, Secret: "shh", Events: []string{TypeCaseWake}},
		{URL: srv.URL + "/off", Enabled: &disabled},
		{URL: srv.URL + "/other", Events: []string{"something_else"}},
	})
	if err := ch.Notify(context.Background(), WakeNotification("c9", nil)); err != nil {
		t.Fatalf("notify: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if headers.Get("X-Trustroom-Event") != TypeCaseWake || headers.Get("X-Trustroom-Case") != "c9" || headers.Get("X-Trustroom-Secret") != "shh" {
		t.Fatalf("unexpected headers: %v", headers)
	}
	var got Notification
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.CaseID != "c9" || got.PropertyTitle != nil {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestWebhookChannelReportsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()
	ch := NewWebhookChannel([]config.WebhookConfig{{URL: srv.URL}})
	err := ch.Notify(context.Background(), WakeNotification("c1", nil))
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status error, got %v", err)
	}
	ch.SetHooks(nil)
	if err := ch.Notify(context.Background(), WakeNotification("c1", nil)); err != nil {
		t.Fatalf("no hooks should be a no-op: %v", err)
	}
}

func TestWebhookChannelTracesDeliveries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	ch := NewWebhookChannel([]config.WebhookConfig{{URL: srv.URL}})
	ch.Tracer = tp.Tracer("test")
	if err := ch.Notify(context.Background(), WakeNotification("c3", nil)); err != nil {
		t.Fatalf("notify: %v", err)
	}
	spans := rec.Ended()
	if len(spans) != 1 || spans[0].Name() != "webhook.deliver" {
		t.Fatalf("expected one delivery span, got %d", len(spans))
	}
}

func recv(t *testing.T, sub *Subscription) CaseChange {
	t.Helper()
	select {
	case c := <-sub.Ch():
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for change")
	}
	return CaseChange{}
}

func TestHubDeliversInVersionOrder(t *testing.T) {
	h := NewHub(time.Minute)
	sub := h.Subscribe("c1")
	defer h.Unsubscribe(sub)

	h.Publish(CaseChange{CaseID: "c1", Version: 4})
	h.Publish(CaseChange{CaseID: "c1", Version: 6})
	h.Publish(CaseChange{CaseID: "c1", Version: 5})
	h.Publish(CaseChange{CaseID: "c1", Version: 5}) // stale duplicate

	for _, want := range []int64{4, 5, 6} {
		if got := recv(t, sub); got.Version != want {
			t.Fatalf("expected version %d, got %d", want, got.Version)
		}
	}
	select {
	case c := <-sub.Ch():
		t.Fatalf("unexpected extra change %+v", c)
	default:
	}
}

func TestHubFlushesAfterGapTimeout(t *testing.T) {
	h := NewHub(20 * time.Millisecond)
	sub := h.Subscribe("c1")
	defer h.Unsubscribe(sub)
	h.Publish(CaseChange{CaseID: "c1", Version: 1})
	h.Publish(CaseChange{CaseID: "c1", Version: 3})
	if got := recv(t, sub); got.Version != 1 {
		t.Fatalf("expected 1, got %d", got.Version)
	}
	if got := recv(t, sub); got.Version != 3 {
		t.Fatalf("expected 3 after gap timeout, got %d", got.Version)
	}
	h.Publish(CaseChange{CaseID: "c1", Version: 2})
	h.Publish(CaseChange{CaseID: "c1", Version: 4})
	if got := recv(t, sub); got.Version != 4 {
		t.Fatalf("late version should be dropped, got %d", got.Version)
	}
}

func TestHubIsolatesCases(t *testing.T) {
	h := NewHub(time.Minute)
	a := h.Subscribe("a")
	b := h.Subscribe("b")
	h.Publish(CaseChange{CaseID: "a", Version: 10})
	h.Publish(CaseChange{CaseID: "b", Version: 3})
	if got := recv(t, a); got.CaseID != "a" {
		t.Fatalf("wrong case on a: %+v", got)
	}
	if got := recv(t, b); got.CaseID != "b" {
		t.Fatalf("wrong case on b: %+v", got)
	}
	h.Unsubscribe(a)
	if _, ok := <-a.Ch(); ok {
		t.Fatalf("channel should be closed after unsubscribe")
	}
	if h.SubscriberCount("a") != 0 {
		t.Fatalf("subscriber not removed")
	}
	h.Publish(CaseChange{CaseID: "a", Version: 11}) // no subscribers, discarded
	h.Unsubscribe(b)
}
