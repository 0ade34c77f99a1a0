// Package notify delivers operator alerts (rollover progress, risk
// denials, connection loss) to an external webhook. Delivery is
// fire-and-forget: a slow or dead endpoint never blocks the trading
// path.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/harborquant/cta-engine/internal/logger"
)

// Notifier receives operator alerts.
type Notifier interface {
	Notify(title, message string)
}

// Nop discards alerts.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(string, string) {}

type alert struct {
	title   string
	message string
	at      time.Time
}

// payload is the DingTalk-style markdown message envelope.
type payload struct {
	MsgType  string   `json:"msgtype"`
	Markdown markdown `json:"markdown"`
}

type markdown struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Webhook posts alerts as DingTalk-style markdown messages to a
// configured URL from a single worker goroutine. When the queue is full
// the alert is dropped and logged.
type Webhook struct {
	url    string
	client *http.Client
	log    *logger.Logger
	queue  chan alert
	done   chan struct{}
}

// NewWebhook creates a webhook notifier and starts its worker.
func NewWebhook(url string, log *logger.Logger) *Webhook {
	w := &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
		queue:  make(chan alert, 128),
		done:   make(chan struct{}),
	}
	go w.run()

	return w
}

// Notify implements Notifier.
func (w *Webhook) Notify(title, message string) {
	select {
	case w.queue <- alert{title: title, message: message, at: time.Now()}:
	default:
		w.log.Warn("notification dropped, queue full", zap.String("title", title))
	}
}

// Close stops the worker after draining queued alerts.
func (w *Webhook) Close() {
	close(w.queue)
	<-w.done
}

func (w *Webhook) run() {
	defer close(w.done)

	for a := range w.queue {
		w.send(a)
	}
}

func (w *Webhook) send(a alert) {
	text := fmt.Sprintf("### %s\n\n%s\n\n> %s", a.title, a.message, a.at.Format(time.RFC3339))
	body, err := json.Marshal(payload{
		MsgType:  "markdown",
		Markdown: markdown{Title: a.title, Text: text},
	})
	if err != nil {
		w.log.Error("failed to encode notification", zap.Error(err))

		return
	}

	resp, err := w.client.Post(w.url, "application/json", bytes.NewReader(body))
	if err != nil {
		w.log.Warn("notification delivery failed",
			zap.String("title", a.title),
			zap.Error(err),
		)

		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		w.log.Warn("notification rejected",
			zap.String("title", a.title),
			zap.Int("status", resp.StatusCode),
		)
	}
}

var (
	_ Notifier = (*Webhook)(nil)
	_ Notifier = Nop{}
)
