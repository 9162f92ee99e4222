package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/anomalyreport/pkg/models"
	"github.com/nats-io/nats.go"
)

// envelope carries the session id that models.Notification leaves out of
// its JSON form.
type envelope struct {
	SessionID    string              `json:"session_id"`
	Notification models.Notification `json:"notification"`
}

// NATS publishes notifications on a subject so every gateway instance can
// deliver them to its own websocket clients.
type NATS struct {
	nc      *nats.Conn
	subject string
	logger  *slog.Logger
}

// ConnectNATS dials url with unlimited reconnects.
func ConnectNATS(url, subject string, logger *slog.Logger) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("anomalyreport"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return &NATS{nc: nc, subject: subject, logger: logger}, nil
}

// Close drains the connection.
func (b *NATS) Close() {
	if b.nc != nil {
		_ = b.nc.Drain()
	}
}

// Notify publishes n. Publishing is buffered by the client, so it does not
// wait for the server.
func (b *NATS) Notify(n models.Notification) {
	data, err := json.Marshal(envelope{SessionID: n.SessionID, Notification: n})
	if err != nil {
		b.logger.Error("encoding notification", "error", err)
		return
	}
	if err := b.nc.Publish(b.subject, data); err != nil {
		b.logger.Warn("publishing notification", "subject", b.subject, "job_id", n.JobID, "error", err)
	}
}

// Subscribe forwards every notification published on the subject to dst.
func (b *NATS) Subscribe(ctx context.Context, dst Notifier) error {
	sub, err := b.nc.Subscribe(b.subject, func(msg *nats.Msg) {
		var env envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			b.logger.Warn("dropping malformed notification", "subject", msg.Subject, "error", err)
			return
		}
		n := env.Notification
		n.SessionID = env.SessionID
		dst.Notify(n)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", b.subject, err)
	}

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}
