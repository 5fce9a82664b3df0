package input

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
)

// Injector delivers input events to the system.
type Injector interface {
	Inject(e Event) error
}

// LogInjector translates events and logs the resulting device writes. It is
// used where no virtual device is available.
type LogInjector struct {
	log      *slog.Logger
	injected atomic.Uint64
}

func NewLogInjector(log *slog.Logger) *LogInjector {
	return &LogInjector{log: log.With("component", "input")}
}

func (l *LogInjector) Inject(e Event) error {
	actions, err := Translate(e)
	if err != nil {
		return err
	}
	l.injected.Add(1)
	if l.log.Enabled(context.Background(), slog.LevelDebug) {
		l.log.Debug("input", "gamepad", e.GamepadIndex, "code", e.Code, "value", e.Value, "writes", actions)
	}
	return nil
}

// Injected returns the number of events accepted.
func (l *LogInjector) Injected() uint64 { return l.injected.Load() }

// Dispatcher routes raw data channel messages: telemetry is logged, input is
// handed to the injector. Errors never propagate to the transport.
type Dispatcher struct {
	injector Injector
	log      *slog.Logger
}

func NewDispatcher(injector Injector, log *slog.Logger) *Dispatcher {
	return &Dispatcher{injector: injector, log: log}
}

// Handle processes one message. It returns the decoded event for callers
// that want to observe traffic.
func (d *Dispatcher) Handle(data []byte) (Event, error) {
	e, err := Parse(data)
	if err != nil {
		d.log.Warn("input message rejected", "err", err)
		return Event{}, err
	}
	if e.Type == EventStats {
		d.log.Debug("client stats", "stats", string(e.Raw))
		return e, nil
	}
	if err := d.injector.Inject(e); err != nil {
		if errors.Is(err, ErrUnknownEvent) {
			d.log.Debug("input ignored", "err", err)
		} else {
			d.log.Warn("input injection failed", "err", err)
		}
		return e, err
	}
	return e, nil
}
