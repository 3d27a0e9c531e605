package natsadapter

import (
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
)

const (
	incidentStream        = "INCIDENTS"
	incidentSubjects      = "incidents.>"
	incidentUpdateSubject = "incidents.updated"
)

// Connect opens a named NATS connection that keeps reconnecting for the life
// of the process and logs every state change.
func Connect(url, name string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "conn", name, "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "conn", name, "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "nats: connect %s", url)
	}
	return conn, nil
}

// jetStream opens a JetStream context on conn and makes sure the incident
// stream exists with the current configuration.
func jetStream(conn *nats.Conn) (nats.JetStreamContext, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, eris.Wrap(err, "nats: jetstream")
	}

	cfg := nats.StreamConfig{
		Name:      incidentStream,
		Subjects:  []string{incidentSubjects},
		Retention: nats.InterestPolicy,
		MaxAge:    24 * time.Hour,
		Storage:   nats.FileStorage,
		// Publishers set Nats-Msg-Id; repeats inside the window are dropped.
		Duplicates: 2 * time.Minute,
	}
	if _, err := js.AddStream(&cfg); err != nil {
		if _, err := js.UpdateStream(&cfg); err != nil {
			return nil, eris.Wrapf(err, "nats: ensure stream %s", cfg.Name)
		}
	}
	return js, nil
}
