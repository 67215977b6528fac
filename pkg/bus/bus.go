// Package bus connects to NATS JetStream and publishes engine events.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/jllopis/switchboard/pkg/core"
)

// Publisher is the part of JetStream the engine publishes through.
type Publisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Config describes the NATS connection and the stream to ensure.
type Config struct {
	URL           string
	Stream        string
	SubjectPrefix string
	// Subjects are extra wildcard subjects captured by the stream,
	// typically the subjects of NATS agents.
	Subjects []string
}

// Conn is a NATS connection with a JetStream context.
type Conn struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream string
}

// Connect dials NATS and creates or updates the stream so it captures
// "<prefix>.>" and every extra subject.
func Connect(ctx context.Context, cfg Config) (*Conn, error) {
	if cfg.Stream == "" {
		return nil, fmt.Errorf("nats stream is required")
	}
	nc, err := nats.Connect(cfg.URL, nats.Name("switchboard"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.Stream,
		Subjects: StreamSubjects(cfg.SubjectPrefix, cfg.Subjects...),
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.InfoContext(ctx, "bus.connected", "url", cfg.URL, "stream", cfg.Stream)
	return &Conn{nc: nc, js: js, stream: cfg.Stream}, nil
}

// StreamSubjects returns the de-duplicated wildcard subjects for a stream.
func StreamSubjects(prefix string, extra ...string) []string {
	var out []string
	add := func(s string) {
		s = strings.TrimSuffix(strings.TrimSpace(s), ".")
		if s == "" {
			return
		}
		if !strings.HasSuffix(s, ">") {
			s += ".>"
		}
		for _, v := range out {
			if v == s {
				return
			}
		}
		out = append(out, s)
	}
	add(prefix)
	for _, s := range extra {
		add(s)
	}
	return out
}

// PublishMsg implements Publisher.
func (c *Conn) PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	ack, err := c.js.PublishMsg(ctx, msg, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats publish %s: %w", msg.Subject, err)
	}
	return ack, nil
}

// Stream returns the stream name.
func (c *Conn) Stream() string { return c.stream }

// HealthCheck reports the connection status.
func (c *Conn) HealthCheck() core.HealthChecker {
	return core.HealthCheckFunc(func(context.Context) core.HealthResult {
		status := c.nc.Status()
		if status == nats.CONNECTED {
			return core.HealthResult{Status: core.HealthHealthy, Message: "connected"}
		}
		return core.HealthResult{Status: core.HealthUnhealthy, Message: status.String()}
	})
}

// Close drains and closes the connection.
func (c *Conn) Close() error {
	return c.nc.Drain()
}
