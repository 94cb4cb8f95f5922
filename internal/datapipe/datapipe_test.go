package datapipe

import (
	"testing"

	"github.com/rs/zerolog"
)

func newTestHub() *Hub {
	return NewHub(zerolog.Nop())
}

func TestPublishCachesValue(t *testing.T) {
	h := newTestHub()
	ch := h.Declare("display_state", ChannelOpts{Initial: "undefined"})

	if err := ch.Publish("on", FromInput, Cache); err != nil {
		t.Fatalf("publish: %v", err)
	}
	v, ok := ch.Value()
	if !ok || v != "on" {
		t.Fatalf("value = %v, %v; want on, true", v, ok)
	}
}

func TestFilterRewritesValue(t *testing.T) {
	h := newTestHub()
	ch := h.Declare("submode", ChannelOpts{Initial: 0})
	ch.AttachFilter("mask-evens", func(old, proposed any) (any, error) {
		n := proposed.(int)
		return n &^ 1, nil
	})
	_ = ch.Publish(7, FromInput, Cache)
	v, _ := ch.Value()
	if v.(int) != 6 {
		t.Fatalf("filtered value = %v; want 6", v)
	}
}

func TestReadOnlyChannelRefusesMutation(t *testing.T) {
	h := newTestHub()
	ch := h.Declare("ro", ChannelOpts{Initial: "x", ReadOnly: true})
	err := ch.Publish("y", FromInput, Cache)
	if err == nil {
		t.Fatal("expected error publishing to read-only channel")
	}
	v, _ := ch.Value()
	if v != "x" {
		t.Fatalf("read-only channel mutated: %v", v)
	}
}

func TestReentrantPublishRefused(t *testing.T) {
	h := newTestHub()
	ch := h.Declare("loop", ChannelOpts{Initial: 0})
	var reentrantErr error
	ch.AttachOutputTrigger(TriggerFunc{Tag: "reenter", Fn: func(_ SourcePolicy, v any) {
		reentrantErr = ch.Publish(v, Internal, Cache)
	}})
	if err := ch.Publish(1, FromInput, Cache); err != nil {
		t.Fatalf("outer publish failed: %v", err)
	}
	if reentrantErr == nil {
		t.Fatal("expected re-entrant publish to be refused")
	}
}

func TestOutputTriggerSeesFilteredValue(t *testing.T) {
	h := newTestHub()
	ch := h.Declare("x", ChannelOpts{})
	ch.AttachFilter("double", func(old, proposed any) (any, error) {
		return proposed.(int) * 2, nil
	})
	var seen int
	ch.AttachOutputTrigger(TriggerFunc{Tag: "t", Fn: func(_ SourcePolicy, v any) { seen = v.(int) }})
	_ = ch.Publish(5, FromInput, Cache)
	if seen != 10 {
		t.Fatalf("output trigger saw %d; want 10", seen)
	}
}

func TestNoCachePolicySkipsCacheButRunsTriggers(t *testing.T) {
	h := newTestHub()
	ch := h.Declare("ephemeral", ChannelOpts{Initial: "base"})
	var sawOutput bool
	ch.AttachOutputTrigger(TriggerFunc{Tag: "t", Fn: func(_ SourcePolicy, v any) { sawOutput = true }})
	_ = ch.Publish("new", FromInput, NoCache)
	v, _ := ch.Value()
	if v != "base" {
		t.Fatalf("value changed despite NoCache: %v", v)
	}
	if !sawOutput {
		t.Fatal("expected output trigger to still run under NoCache")
	}
}

func TestUnknownChannelIsError(t *testing.T) {
	h := newTestHub()
	if _, err := h.Get("nope"); err == nil {
		t.Fatal("expected error for unknown channel")
	}
}
