package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/csp/adapter"
	"github.com/c360/csp/adapter/memory"
	natsadapter "github.com/c360/csp/adapter/nats"
	wsadapter "github.com/c360/csp/adapter/websocket"
	"github.com/c360/csp/edge"
	"github.com/c360/csp/errors"
	"github.com/c360/csp/graphspec"
	"github.com/c360/csp/metric"
	"github.com/c360/csp/topology"
	"github.com/c360/csp/value"
)

// buildAdapters registers every declared adapter binding against mgr,
// resolving each one's target edge from graph and its concrete source or
// sink from its kind and direction.
func buildAdapters(specs []graphspec.AdapterSpec, graph *topology.Graph, mgr *adapter.Manager, metrics *metric.Metrics, logger *slog.Logger) error {
	for _, spec := range specs {
		target, ok := graph.EdgeByID(spec.Edge)
		if !ok {
			return errors.WrapInvalid(errors.ErrUnwiredInput, "engine", "buildAdapters",
				fmt.Sprintf("adapter %q: edge %q is not declared", spec.ID, spec.Edge))
		}
		if err := bindAdapter(spec, target, mgr, metrics, logger); err != nil {
			return errors.Wrap(err, "engine", "buildAdapters", fmt.Sprintf("binding adapter %q", spec.ID))
		}
	}
	return nil
}

func bindAdapter(spec graphspec.AdapterSpec, target *edge.Buffer, mgr *adapter.Manager, metrics *metric.Metrics, logger *slog.Logger) error {
	switch spec.Kind {
	case "memory":
		if spec.Direction != graphspec.DirectionPull {
			return unsupportedDirection(spec)
		}
		ticks, err := decodeMemoryTicks(spec.Config)
		if err != nil {
			return err
		}
		mgr.RegisterPull(spec.ID, target, memory.NewSource(ticks))
		return nil

	case "nats":
		cfg := decodeNATSConfig(spec.Config)
		switch spec.Direction {
		case graphspec.DirectionPush:
			mgr.RegisterPush(spec.ID, target, latePolicy(spec.Config), rateLimit(spec.Config), natsadapter.NewPushSource(cfg, logger))
			return nil
		case graphspec.DirectionPushPull:
			mgr.RegisterPushPull(spec.ID, target, natsadapter.NewReplayTail(cfg, logger))
			return nil
		default:
			return unsupportedDirection(spec)
		}

	case "websocket":
		if spec.Direction != graphspec.DirectionPush {
			return unsupportedDirection(spec)
		}
		cfg := decodeWebsocketConfig(spec.Config)
		mgr.RegisterPush(spec.ID, target, latePolicy(spec.Config), rateLimit(spec.Config), wsadapter.NewClient(cfg, metrics, logger))
		return nil

	default:
		return errors.WrapInvalid(errors.ErrAdapterSource, "engine", "bindAdapter",
			fmt.Sprintf("adapter %q: unknown kind %q", spec.ID, spec.Kind))
	}
}

func unsupportedDirection(spec graphspec.AdapterSpec) error {
	return errors.WrapInvalid(errors.ErrAdapterSource, "engine", "bindAdapter",
		fmt.Sprintf("adapter %q: kind %q does not support direction %q", spec.ID, spec.Kind, spec.Direction))
}

// stringField reads a string-typed struct field, or def if absent.
func stringField(v value.Value, name, def string) string {
	f, ok := v.Field(name)
	if !ok {
		return def
	}
	s, ok := f.AsString()
	if !ok {
		return def
	}
	return s
}

// durationField reads a duration-typed struct field. A declarative
// document has no duration literal, so a duration config value always
// arrives as a plain string (e.g. "100ms") and is parsed accordingly; a
// bare int64 is read as nanoseconds for configs built programmatically in
// tests.
func durationField(v value.Value, name string, def time.Duration) time.Duration {
	f, ok := v.Field(name)
	if !ok {
		return def
	}
	switch f.Kind {
	case value.KindDuration:
		d, _ := f.AsDuration()
		return d
	case value.KindString:
		s, _ := f.AsString()
		d, err := time.ParseDuration(s)
		if err != nil {
			return def
		}
		return d
	case value.KindInt64:
		n, _ := f.AsInt64()
		return time.Duration(n)
	default:
		return def
	}
}

// arrayField reads an array-typed struct field, or nil if absent.
func arrayField(v value.Value, name string) []value.Value {
	f, ok := v.Field(name)
	if !ok {
		return nil
	}
	elems, _ := f.AsArray()
	return elems
}

// stringMapField reads a nested struct field as a map of its member
// names to string values, for configs like websocket headers.
func stringMapField(v value.Value, name string) map[string]string {
	f, ok := v.Field(name)
	if !ok {
		return nil
	}
	fields, ok := f.AsStruct()
	if !ok {
		return nil
	}
	out := make(map[string]string, len(fields))
	for _, field := range fields {
		if s, ok := field.Value.AsString(); ok {
			out[field.Name] = s
		}
	}
	return out
}

// latePolicy reads a "late_policy" string field: "drop" selects
// adapter.PolicyDrop, anything else (including absence) selects the
// default adapter.PolicyClamp.
func latePolicy(v value.Value) adapter.LatePolicy {
	if stringField(v, "late_policy", "") == "drop" {
		return adapter.PolicyDrop
	}
	return adapter.PolicyClamp
}

// rateLimit reads a nested "rate_limit" struct ({rate, burst}) declaring the
// per-adapter backpressure policy. A document that omits it gets an
// unlimited adapter.RateLimit, matching the zero value's meaning.
func rateLimit(v value.Value) adapter.RateLimit {
	f, ok := v.Field("rate_limit")
	if !ok {
		return adapter.RateLimit{}
	}
	return adapter.RateLimit{
		Rate:  float64Field(f, "rate", 0),
		Burst: int(int64Field(f, "burst", 0)),
	}
}

// decodeMemoryTicks reads a "ticks" array of {time, value} structs into a
// memory.Source's tick sequence.
func decodeMemoryTicks(cfg value.Value) ([]memory.Tick, error) {
	entries := arrayField(cfg, "ticks")
	ticks := make([]memory.Tick, 0, len(entries))
	for i, entry := range entries {
		timeField, ok := entry.Field("time")
		if !ok {
			return nil, errors.WrapInvalid(errors.ErrAdapterSource, "engine", "decodeMemoryTicks",
				fmt.Sprintf("tick %d is missing a time field", i))
		}
		valueField, ok := entry.Field("value")
		if !ok {
			return nil, errors.WrapInvalid(errors.ErrAdapterSource, "engine", "decodeMemoryTicks",
				fmt.Sprintf("tick %d is missing a value field", i))
		}
		n, ok := timeField.AsInt64()
		if !ok {
			return nil, errors.WrapInvalid(errors.ErrAdapterSource, "engine", "decodeMemoryTicks",
				fmt.Sprintf("tick %d's time field is not an integer", i))
		}
		ticks = append(ticks, memory.Tick{Time: edge.Time(n), Value: valueField})
	}
	return ticks, nil
}

// decodeNATSConfig reads the URL/Subject/Stream fields a declarative
// document can express. Options and ConnectRetry are left at their zero
// value; that is a programmatic connection tuning surface no YAML
// document needs.
func decodeNATSConfig(cfg value.Value) natsadapter.Config {
	return natsadapter.Config{
		URL:     stringField(cfg, "url", ""),
		Subject: stringField(cfg, "subject", ""),
		Stream:  stringField(cfg, "stream", ""),
	}
}

// decodeWebsocketConfig reads the URL, headers, and reconnect policy
// fields a declarative document can express.
func decodeWebsocketConfig(cfg value.Value) wsadapter.Config {
	reconnect, _ := cfg.Field("reconnect")
	return wsadapter.Config{
		URL:     stringField(cfg, "url", ""),
		Headers: stringMapField(cfg, "headers"),
		Reconnect: wsadapter.ReconnectPolicy{
			InitialInterval: durationField(reconnect, "initial_interval", 100*time.Millisecond),
			MaxInterval:     durationField(reconnect, "max_interval", 30*time.Second),
			Multiplier:      float64Field(reconnect, "multiplier", 2.0),
			MaxRetries:      int(int64Field(reconnect, "max_retries", 0)),
		},
	}
}

func int64Field(v value.Value, name string, def int64) int64 {
	f, ok := v.Field(name)
	if !ok {
		return def
	}
	n, ok := f.AsInt64()
	if !ok {
		return def
	}
	return n
}

func float64Field(v value.Value, name string, def float64) float64 {
	f, ok := v.Field(name)
	if !ok {
		return def
	}
	n, ok := f.AsFloat64()
	if !ok {
		return def
	}
	return n
}
