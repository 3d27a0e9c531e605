package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"

	"github.com/samirrijal/saferoute/internal/core/domain"
)

// Publisher announces incident-store changes on the INCIDENTS stream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

func NewPublisher(url string) (*Publisher, error) {
	conn, err := Connect(url, "saferoute-publisher")
	if err != nil {
		return nil, err
	}
	js, err := jetStream(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, js: js}, nil
}

// PublishIncidentUpdate publishes update on incidents.updated. The message
// id is derived from the source and timestamp, so a retried seed run does
// not invalidate caches twice.
func (p *Publisher) PublishIncidentUpdate(ctx context.Context, update domain.IncidentUpdate) error {
	data, err := json.Marshal(update)
	if err != nil {
		return eris.Wrap(err, "nats: encode incident update")
	}
	_, err = p.js.Publish(incidentUpdateSubject, data,
		nats.Context(ctx),
		nats.MsgId(updateMsgID(update)),
	)
	if err != nil {
		return eris.Wrapf(err, "nats: publish %s", incidentUpdateSubject)
	}
	return nil
}

func updateMsgID(u domain.IncidentUpdate) string {
	return fmt.Sprintf("%s-%d-%d", u.Source, u.At, u.Inserted)
}

// Close drains the connection, flushing pending publishes.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}
