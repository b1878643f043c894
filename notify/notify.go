// Package notify delivers fire-and-forget operator notifications for
// state transitions, orphan cleanups and kill-switch trips. A failing
// or slow sink must never block a reconciliation cycle.
package notify

import "log/slog"

type Severity int

const (
	Info Severity = iota
	Warn
	Critical
)

func (s Severity) String() string {
	switch s {
	case Warn:
		return "WARN"
	case Critical:
		return "CRITICAL"
	default:
		return "INFO"
	}
}

type Notifier interface {
	Notify(sev Severity, msg string)
}

// Slog routes notifications into the structured log. The default sink.
type Slog struct {
	Log *slog.Logger
}

func (s Slog) Notify(sev Severity, msg string) {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	switch sev {
	case Critical:
		log.Error(msg, "notify", true)
	case Warn:
		log.Warn(msg, "notify", true)
	default:
		log.Info(msg, "notify", true)
	}
}

// Multi fans out to several sinks.
type Multi []Notifier

func (m Multi) Notify(sev Severity, msg string) {
	for _, n := range m {
		n.Notify(sev, msg)
	}
}

// Async decouples delivery from the caller with a drop-oldest buffer.
// If the sink cannot keep up, old notifications are discarded rather
// than stalling the engine.
type Async struct {
	ch chan notification
}

type notification struct {
	sev Severity
	msg string
}

func NewAsync(next Notifier, buffer int) *Async {
	if buffer <= 0 {
		buffer = 64
	}
	a := &Async{ch: make(chan notification, buffer)}
	go func() {
		for n := range a.ch {
			next.Notify(n.sev, n.msg)
		}
	}()
	return a
}

func (a *Async) Notify(sev Severity, msg string) {
	select {
	case a.ch <- notification{sev, msg}:
	default:
		// Buffer full: drop the oldest and retry once.
		select {
		case <-a.ch:
		default:
		}
		select {
		case a.ch <- notification{sev, msg}:
		default:
		}
	}
}

// Close stops the delivery goroutine. Pending notifications drain first.
func (a *Async) Close() {
	close(a.ch)
}
