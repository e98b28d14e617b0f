package tools

import "context"

type ctxKey int

const interruptProbeKey ctxKey = iota

// InterruptProbe reports whether new user input is pending. Tools that block
// for bounded periods (sleep, waits) consult it at sub-second cadence and
// return a partial-completion result when it fires.
type InterruptProbe func() bool

// WithInterruptProbe attaches an interrupt probe to the context.
func WithInterruptProbe(ctx context.Context, probe InterruptProbe) context.Context {
	return context.WithValue(ctx, interruptProbeKey, probe)
}

// ProbeFromCtx returns the interrupt probe, or a never-firing probe when the
// caller attached none.
func ProbeFromCtx(ctx context.Context) InterruptProbe {
	if probe, ok := ctx.Value(interruptProbeKey).(InterruptProbe); ok && probe != nil {
		return probe
	}
	return func() bool { return false }
}
