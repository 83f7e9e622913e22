package lifecycle

import (
	"context"
	"syscall"
	"testing"
	"time"
)

func TestInterrupter_Signal(t *testing.T) {
	i := NewInterrupter()
	defer i.Stop()

	ctx := i.Start(context.Background())
	i.signals <- syscall.SIGTERM

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context was not cancelled within timeout")
	}

	if !i.Interrupted() {
		t.Error("expected interrupted after signal")
	}
	if i.Reason() != "received signal: terminated" {
		t.Errorf("unexpected reason '%s'", i.Reason())
	}
}

func TestInterrupter_ParentCancel(t *testing.T) {
	i := NewInterrupter()
	defer i.Stop()

	parent, cancel := context.WithCancel(context.Background())
	ctx := i.Start(parent)
	cancel()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context was not cancelled within timeout")
	}
	if i.Interrupted() {
		t.Error("parent cancellation is not an interrupt")
	}
}

func TestInterrupter_StopTwice(t *testing.T) {
	i := NewInterrupter()
	_ = i.Start(context.Background())
	i.Stop()
	i.Stop()
}
