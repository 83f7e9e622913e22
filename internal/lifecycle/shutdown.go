// Package lifecycle ties command execution to process signals.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Interrupter cancels a context on SIGINT or SIGTERM.
type Interrupter struct {
	signals chan os.Signal
	mu      sync.Mutex
	fired   bool
	stopped bool
	reason  string
}

// NewInterrupter creates an interrupter that is not yet listening.
func NewInterrupter() *Interrupter {
	return &Interrupter{signals: make(chan os.Signal, 1)}
}

// Start listens for signals and returns a context that is cancelled when one
// arrives or when ctx is done.
func (i *Interrupter) Start(ctx context.Context) context.Context {
	signal.Notify(i.signals, syscall.SIGTERM, syscall.SIGINT)

	runCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer cancel()
		select {
		case sig, ok := <-i.signals:
			if ok {
				i.record(fmt.Sprintf("received signal: %v", sig))
			}
		case <-ctx.Done():
		}
	}()

	return runCtx
}

func (i *Interrupter) record(reason string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.fired {
		i.fired = true
		i.reason = reason
	}
}

// Interrupted reports whether the context was cancelled by a signal.
func (i *Interrupter) Interrupted() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.fired
}

// Reason returns why the context was cancelled.
func (i *Interrupter) Reason() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.reason
}

// Stop stops listening for signals. It is safe to call more than once.
func (i *Interrupter) Stop() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.stopped {
		return
	}
	i.stopped = true
	signal.Stop(i.signals)
	close(i.signals)
}
