package observability

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// SignalKind is a line prefix consumed by the supervising scripts.
type SignalKind string

const (
	SignalLoginConfirmed  SignalKind = "LOGIN_CONFIRMED"
	SignalPasswordExpired SignalKind = "PASSWORD_EXPIRED"
	SignalLoginError      SignalKind = "LOGIN_ERROR"
	SignalLoginFailed     SignalKind = "LOGIN_FAILED"
	SignalReportConfig    SignalKind = "REPORT_CONFIG"
)

// SignalEmitter writes "<KIND>:<value>" lines. The zero value is not usable; use NewSignalEmitter.
type SignalEmitter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewSignalEmitter returns an emitter writing to w, or to stdout when w is nil.
func NewSignalEmitter(w io.Writer) *SignalEmitter {
	if w == nil {
		w = os.Stdout
	}
	return &SignalEmitter{w: w}
}

// Emit writes one signal line. Write errors are dropped; signals are advisory.
func (e *SignalEmitter) Emit(kind SignalKind, value string) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, _ = fmt.Fprintf(e.w, "%s:%s\n", kind, value)
}
