// Package nats binds the engine to a NATS deployment: PushSource is a push
// adapter over core NATS pub/sub for live ticks; ReplayTail is a push-pull
// adapter over a JetStream stream, replaying its full history in order and
// then tailing live messages on the same subject.
//
// Both are grounded on natsclient.Client's connection-management shape
// (connect with options, tear down on Stop, log through an injected
// logger) without its circuit breaker. A failure while connecting or
// setting up returns a fatal-classified error from Start, which the
// adapter manager's errgroup surfaces through Manager.Wait; nothing is
// written to the adapter's edge. Once set up, Start returns only when its
// context is done: a connection lost after that point does not end it.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/csp/adapter"
	"github.com/c360/csp/edge"
	"github.com/c360/csp/errors"
	"github.com/c360/csp/pkg/retry"
	"github.com/c360/csp/value"
)

// tickEnvelope is the wire shape every tick is published as: a nanosecond
// timestamp alongside the value.Value tagged-union encoding.
type tickEnvelope struct {
	Time  int64       `json:"time"`
	Value value.Value `json:"value"`
}

// Config names the connection and subject this binding uses. Stream is
// only required by ReplayTail. ConnectRetry governs the initial connect
// attempt's backoff; its zero value falls back to retry.DefaultConfig().
type Config struct {
	URL          string
	Subject      string
	Stream       string
	Options      []nats.Option
	ConnectRetry retry.Config
}

func (c Config) connectRetry() retry.Config {
	if c.ConnectRetry.MaxAttempts == 0 {
		return retry.DefaultConfig()
	}
	return c.ConnectRetry
}

func connectWithRetry(ctx context.Context, cfg Config) (*nats.Conn, error) {
	var conn *nats.Conn
	err := retry.Do(ctx, cfg.connectRetry(), func() error {
		c, err := nats.Connect(cfg.URL, cfg.Options...)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	return conn, err
}

// PushSource is a push adapter delivering every message received on
// Config.Subject as a live tick.
type PushSource struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	conn *nats.Conn
	sub  *nats.Subscription
}

// NewPushSource constructs a PushSource. logger may be nil.
func NewPushSource(cfg Config, logger *slog.Logger) *PushSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &PushSource{cfg: cfg, logger: logger}
}

// Start connects, subscribes, and blocks until ctx is done; a connection
// lost after subscribing does not end it.
func (s *PushSource) Start(ctx context.Context, sink adapter.Sink) error {
	conn, err := connectWithRetry(ctx, s.cfg)
	if err != nil {
		return errors.WrapFatal(err, "adapter/nats", "PushSource.Start", "connecting")
	}

	sub, err := conn.Subscribe(s.cfg.Subject, func(msg *nats.Msg) {
		var env tickEnvelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			s.logger.Warn("nats push: undecodable message", "subject", s.cfg.Subject, "error", err)
			return
		}
		if err := sink.PushTick(edge.Time(env.Time), env.Value); err != nil {
			s.logger.Warn("nats push: rejected tick", "subject", s.cfg.Subject, "error", err)
		}
	})
	if err != nil {
		conn.Close()
		return errors.WrapFatal(err, "adapter/nats", "PushSource.Start", "subscribing")
	}

	s.mu.Lock()
	s.conn, s.sub = conn, sub
	s.mu.Unlock()

	<-ctx.Done()
	return ctx.Err()
}

// Stop unsubscribes and closes the connection.
func (s *PushSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
		s.sub = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	return nil
}

// ReplayTail is a push-pull adapter: it drains a JetStream stream's full
// history through ReplaySink.PushTick, flags replay complete once it has
// consumed the stream's last sequence as of connect time, then delivers
// everything afterward through ReplaySink.PushTickLive.
type ReplayTail struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	conn *nats.Conn
	cc   jetstream.ConsumeContext
}

// NewReplayTail constructs a ReplayTail. logger may be nil.
func NewReplayTail(cfg Config, logger *slog.Logger) *ReplayTail {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReplayTail{cfg: cfg, logger: logger}
}

// Start connects, determines the stream's current last sequence, consumes
// from the beginning in order, and blocks until ctx is done.
func (r *ReplayTail) Start(ctx context.Context, sink adapter.ReplaySink) error {
	conn, err := connectWithRetry(ctx, r.cfg)
	if err != nil {
		return errors.WrapFatal(err, "adapter/nats", "ReplayTail.Start", "connecting")
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return errors.WrapFatal(err, "adapter/nats", "ReplayTail.Start", "opening jetstream context")
	}
	stream, err := js.Stream(ctx, r.cfg.Stream)
	if err != nil {
		conn.Close()
		return errors.WrapFatal(err, "adapter/nats", "ReplayTail.Start", fmt.Sprintf("opening stream %q", r.cfg.Stream))
	}
	info, err := stream.Info(ctx)
	if err != nil {
		conn.Close()
		return errors.WrapFatal(err, "adapter/nats", "ReplayTail.Start", "reading stream info")
	}
	lastSeq := info.State.LastSeq

	var mu sync.Mutex
	replaying := lastSeq > 0
	if !replaying {
		if err := sink.FlagReplayComplete(); err != nil {
			conn.Close()
			return errors.WrapFatal(err, "adapter/nats", "ReplayTail.Start", "flagging empty stream replay complete")
		}
	}

	consumer, err := stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{r.cfg.Subject},
	})
	if err != nil {
		conn.Close()
		return errors.WrapFatal(err, "adapter/nats", "ReplayTail.Start", "creating ordered consumer")
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var env tickEnvelope
		if err := json.Unmarshal(msg.Data(), &env); err != nil {
			r.logger.Warn("nats replay: undecodable message", "subject", r.cfg.Subject, "error", err)
			_ = msg.Ack()
			return
		}

		mu.Lock()
		stillReplaying := replaying
		mu.Unlock()

		var tickErr error
		if stillReplaying {
			tickErr = sink.PushTick(edge.Time(env.Time), env.Value)
			meta, metaErr := msg.Metadata()
			if metaErr == nil && meta.Sequence.Stream >= lastSeq {
				mu.Lock()
				replaying = false
				mu.Unlock()
				if err := sink.FlagReplayComplete(); err != nil {
					r.logger.Warn("nats replay: flag replay complete rejected", "error", err)
				}
			}
		} else {
			tickErr = sink.PushTickLive(edge.Time(env.Time), env.Value)
		}
		if tickErr != nil {
			r.logger.Warn("nats replay: rejected tick", "subject", r.cfg.Subject, "error", tickErr)
		}
		_ = msg.Ack()
	})
	if err != nil {
		conn.Close()
		return errors.WrapFatal(err, "adapter/nats", "ReplayTail.Start", "starting consume")
	}

	r.mu.Lock()
	r.conn, r.cc = conn, cc
	r.mu.Unlock()

	<-ctx.Done()
	return ctx.Err()
}

// Stop stops the consumer and closes the connection.
func (r *ReplayTail) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cc != nil {
		r.cc.Stop()
		r.cc = nil
	}
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
	return nil
}
