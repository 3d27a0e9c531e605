package natsadapter

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"

	"github.com/samirrijal/saferoute/internal/core/domain"
)

const invalidatorDurable = "avoid-cache-invalidator"

// Subscriber consumes incident-store events from the INCIDENTS stream.
type Subscriber struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	subs []*nats.Subscription
}

func NewSubscriber(url string) (*Subscriber, error) {
	conn, err := Connect(url, "saferoute-invalidator")
	if err != nil {
		return nil, err
	}
	js, err := jetStream(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Subscriber{conn: conn, js: js}, nil
}

// SubscribeIncidentUpdates delivers every incidents.updated event to
// handler. A message that cannot be decoded is terminated; one the handler
// rejects is redelivered, at most three deliveries in total.
func (s *Subscriber) SubscribeIncidentUpdates(ctx context.Context, handler func(ctx context.Context, update domain.IncidentUpdate) error) error {
	sub, err := s.js.Subscribe(incidentUpdateSubject, func(msg *nats.Msg) {
		update, err := decodeIncidentUpdate(msg.Data)
		if err != nil {
			slog.Warn("dropping undecodable incident update", "error", err)
			_ = msg.Term()
			return
		}
		if err := handler(ctx, update); err != nil {
			slog.Warn("incident update handler failed", "source", update.Source, "error", err)
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	},
		nats.Durable(invalidatorDurable),
		nats.ManualAck(),
		nats.MaxDeliver(3),
		nats.DeliverNew(),
	)
	if err != nil {
		return eris.Wrapf(err, "nats: subscribe %s", incidentUpdateSubject)
	}
	s.subs = append(s.subs, sub)
	return nil
}

// decodeIncidentUpdate accepts an empty body as a bare "something changed".
func decodeIncidentUpdate(data []byte) (domain.IncidentUpdate, error) {
	var update domain.IncidentUpdate
	if len(data) == 0 {
		return update, nil
	}
	if err := json.Unmarshal(data, &update); err != nil {
		return update, eris.Wrap(err, "nats: decode incident update")
	}
	return update, nil
}

func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	_ = s.conn.Drain()
}
