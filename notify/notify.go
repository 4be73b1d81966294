// Package notify delivers best-effort operator alerts. Failures are logged
// and never propagate into the caller.
package notify

// Notifier is the single outbound alerting surface the core consumes.
type Notifier interface {
	Notify(message string)
}

// Noop discards every message. Used when no alert channel is configured.
type Noop struct{}

func (Noop) Notify(string) {}
