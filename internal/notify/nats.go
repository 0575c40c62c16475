// Package notify forwards scheduler notifications to a NATS subject tree so
// that other processes can follow task outcomes.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"taskclock/internal/journal"
	"taskclock/internal/scheduler"
)

const DefaultSubject = "taskclock.events"

// Publisher is the subset of *nats.Conn the bridge needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

type Bridge struct {
	pub     Publisher
	subject string
	log     zerolog.Logger
}

func NewBridge(pub Publisher, subject string, log zerolog.Logger) *Bridge {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Bridge{pub: pub, subject: subject, log: log.With().Str("component", "notify").Logger()}
}

// Subject returns the subject an event of the given kind is published on.
func (b *Bridge) Subject(kind scheduler.EventKind) string {
	return b.subject + "." + string(kind)
}

// Publish encodes e the same way the journal stores it.
func (b *Bridge) Publish(e scheduler.Event) error {
	data, err := json.Marshal(journal.FromEvent(e))
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return b.pub.Publish(b.Subject(e.Kind), data)
}

func (b *Bridge) Listener() scheduler.Listener {
	return func(e scheduler.Event) {
		if err := b.Publish(e); err != nil {
			b.log.Error().Err(err).Str("event", string(e.Kind)).Msg("publish failed")
		}
	}
}

// Connect dials url and keeps reconnecting for the life of the process.
func Connect(url string, log zerolog.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("taskclock"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
}
