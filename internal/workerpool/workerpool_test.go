package workerpool

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestExecuteSkippedWhenContextNotRegistered(t *testing.T) {
	p := New(zerolog.Nop(), 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.executorLoop(ctx)

	ran := false
	p.Submit(Job{
		Context: "gone",
		Name:    "j1",
		Execute: func(any) any { ran = true; return nil },
	})
	time.Sleep(20 * time.Millisecond)
	if ran {
		t.Fatal("execute ran without registered context")
	}
}

func TestExecuteRunsAndNotifyGatedOnContext(t *testing.T) {
	p := New(zerolog.Nop(), 4)
	p.AddContext("live")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.executorLoop(ctx)
	go p.RunNotifyLoop(ctx)

	notified := make(chan any, 1)
	p.Submit(Job{
		Context: "live",
		Name:    "j2",
		Param:   21,
		Execute: func(p any) any { return p.(int) * 2 },
		Notify:  func(_ any, result any) { notified <- result },
	})

	select {
	case r := <-notified:
		if r.(int) != 42 {
			t.Fatalf("result = %v; want 42 (param 21 doubled)", r)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notify")
	}
}

func TestNotifySkippedIfContextRemovedBeforeDelivery(t *testing.T) {
	p := New(zerolog.Nop(), 4)
	p.AddContext("transient")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	executed := make(chan struct{})
	p.Submit(Job{
		Context: "transient",
		Name:    "j3",
		Execute: func(any) any { close(executed); return nil },
		Notify:  func(any, any) { t.Fatal("notify must not run after context removed") },
	})
	go p.executorLoop(ctx)

	<-executed
	p.RemoveContext("transient")
	go p.RunNotifyLoop(ctx)
	time.Sleep(20 * time.Millisecond)
}

func TestSubmitReturnsFalseWhenQueueFull(t *testing.T) {
	p := New(zerolog.Nop(), 1)
	p.queue <- Job{Name: "filler"}
	if p.Submit(Job{Name: "overflow"}) {
		t.Fatal("expected Submit to fail on a full queue")
	}
}
