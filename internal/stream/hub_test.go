package stream

import (
	"context"
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	h := NewHub()
	ch, unsub := h.Subscribe(4)
	defer unsub()

	h.Publish(Event{Event: "notification", Data: []byte(`{"a":1}`)})
	select {
	case ev := <-ch:
		if ev.Event != "notification" || string(ev.Data) != `{"a":1}` {
			t.Errorf("event = %+v", ev)
		}
		if ev.ID == "" {
			t.Error("event id not assigned")
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub()
	_, unsub := h.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.Publish(Event{Event: "notification"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}
}

func TestStreamStopsOnContextCancel(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() {
		errc <- h.Stream(ctx, 4, func(Event) error { return nil })
	}()
	cancel()
	select {
	case err := <-errc:
		if err != context.Canceled {
			t.Errorf("err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("stream did not stop")
	}
}

func TestCloseEndsStreams(t *testing.T) {
	h := NewHub()
	errc := make(chan error, 1)
	go func() {
		errc <- h.Stream(context.Background(), 4, func(Event) error { return nil })
	}()
	time.Sleep(20 * time.Millisecond)
	h.Close()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("stream did not end on close")
	}

	// Subscribing after close yields a closed channel.
	ch, unsub := h.Subscribe(1)
	defer unsub()
	if _, ok := <-ch; ok {
		t.Error("post-close subscription delivered an event")
	}
}

func TestUnsubscribeAfterCloseIsNoop(t *testing.T) {
	h := NewHub()
	ch, unsub := h.Subscribe(1)
	h.Close()

	// Close already closed the channel through the shared guard; a deferred
	// unsub running afterwards must not close it a second time.
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Error("channel still open after close")
	}
}
