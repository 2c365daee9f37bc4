package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/gesture"
)

// newLogger builds the daemon logger from the log configuration.
func newLogger(w io.Writer, cfg LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}

// hookSignals forwards gesture signals to logger until the returned func is
// called. The func waits for queued events to be logged.
func hookSignals(logger *slog.Logger) func() {
	var listeners []*capitan.Listener
	hook := func(sig capitan.Signal, fn capitan.EventCallback) {
		listeners = append(listeners, capitan.Hook(sig, fn))
	}

	hook(gesture.SettingsStarted, func(ctx context.Context, e *capitan.Event) {
		debounce, _ := gesture.KeyDebounce.From(e)
		logger.InfoContext(ctx, "settings started", "debounce", debounce)
	})

	hook(gesture.SettingsStopped, func(ctx context.Context, e *capitan.Event) {
		state, _ := gesture.KeyState.From(e)
		logger.InfoContext(ctx, "settings stopped", "state", state)
	})

	hook(gesture.SettingsStateChanged, func(ctx context.Context, e *capitan.Event) {
		oldState, _ := gesture.KeyOldState.From(e)
		newState, _ := gesture.KeyNewState.From(e)
		logger.DebugContext(ctx, "state changed", "from", oldState, "to", newState)
	})

	hook(gesture.SettingsLoaded, func(ctx context.Context, _ *capitan.Event) {
		logger.DebugContext(ctx, "preferences loaded")
	})

	hook(gesture.ChangeReceived, func(ctx context.Context, e *capitan.Event) {
		key, _ := gesture.KeyPreference.From(e)
		logger.DebugContext(ctx, "change received", "preference", key)
	})

	hook(gesture.PreferenceUpdated, func(ctx context.Context, e *capitan.Event) {
		key, _ := gesture.KeyPreference.From(e)
		value, _ := gesture.KeyValue.From(e)
		logger.InfoContext(ctx, "preference updated", "preference", key, "value", value)
	})

	hook(gesture.PreferenceReadFailed, func(ctx context.Context, e *capitan.Event) {
		key, _ := gesture.KeyPreference.From(e)
		errMsg, _ := gesture.KeyError.From(e)
		logger.WarnContext(ctx, "preference read failed", "preference", key, "error", errMsg)
	})

	hook(gesture.SettingPropagated, func(ctx context.Context, e *capitan.Event) {
		key, _ := gesture.KeyPreference.From(e)
		logger.DebugContext(ctx, "setting propagated", "preference", key)
	})

	hook(gesture.PropagationFailed, func(ctx context.Context, e *capitan.Event) {
		key, _ := gesture.KeyPreference.From(e)
		errMsg, _ := gesture.KeyError.From(e)
		logger.ErrorContext(ctx, "propagation failed", "preference", key, "error", errMsg)
	})

	hook(gesture.StateNotified, func(ctx context.Context, e *capitan.Event) {
		n, _ := gesture.KeyCoalesced.From(e)
		logger.DebugContext(ctx, "state notified", "coalesced", n)
	})

	hook(gesture.DozeReadFailed, func(ctx context.Context, e *capitan.Event) {
		errMsg, _ := gesture.KeyError.From(e)
		logger.WarnContext(ctx, "doze read failed", "error", errMsg)
	})

	hook(gesture.TorchToggled, func(ctx context.Context, _ *capitan.Event) {
		logger.InfoContext(ctx, "torch toggled")
	})

	hook(gesture.TorchFailed, func(ctx context.Context, e *capitan.Event) {
		errMsg, _ := gesture.KeyError.From(e)
		logger.ErrorContext(ctx, "torch failed", "error", errMsg)
	})

	return func() {
		for _, l := range listeners {
			l.Close()
		}
	}
}

// counters tallies settings activity for the summary logged at shutdown.
// Per-event logging goes through hookSignals.
type counters struct {
	changes      atomic.Int64
	updates      atomic.Int64
	propagations atomic.Int64
	failed       atomic.Int64
	notified     atomic.Int64
}

func (c *counters) OnStateChange(_, _ gesture.State) {}

func (c *counters) OnChangeReceived() { c.changes.Add(1) }

func (c *counters) OnPreferenceUpdated(string) { c.updates.Add(1) }

func (c *counters) OnPropagation(_ string, _ time.Duration, err error) {
	c.propagations.Add(1)
	if err != nil {
		c.failed.Add(1)
	}
}

func (c *counters) OnNotify(coalesced int) { c.notified.Add(int64(coalesced)) }

// attrs renders the tallies as slog key-value pairs.
func (c *counters) attrs() []any {
	return []any{
		"changes", c.changes.Load(),
		"updates", c.updates.Load(),
		"propagations", c.propagations.Load(),
		"propagation_failures", c.failed.Load(),
		"notified", c.notified.Load(),
	}
}

var _ gesture.MetricsProvider = (*counters)(nil)
