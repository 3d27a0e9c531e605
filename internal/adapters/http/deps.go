package http

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/saferoute/internal/core/usecases"
)

// Pinger is anything the readiness probe can check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Avoid *usecases.AvoidService
	NATS  *nats.Conn
	Cache Pinger

	// RequestTimeout bounds each avoid-link request; 0 means 15s.
	RequestTimeout time.Duration
	// Version is reported by the health endpoint.
	Version string
}

func (d *Dependencies) requestTimeout() time.Duration {
	if d.RequestTimeout > 0 {
		return d.RequestTimeout
	}
	return 15 * time.Second
}
