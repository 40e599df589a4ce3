package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_DeliversToSubscriber(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	bus.Emit(&JobSubmitted{Job: &Job{ID: "job-1"}, Timestamp: time.Now()})

	select {
	case e := <-ch:
		submitted, ok := e.(*JobSubmitted)
		require.True(t, ok)
		assert.Equal(t, "job-1", submitted.Job.ID)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()
	bus.Unsubscribe(ch)

	bus.Emit(&JobStarted{Job: &Job{ID: "job-2"}, Timestamp: time.Now()})

	select {
	case <-ch:
		t.Fatal("received event after unsubscribe")
	default:
	}
}

func TestBus_DropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	// Overfill the subscriber buffer; Emit must never block.
	for i := 0; i < 250; i++ {
		bus.Emit(&JobStarted{Job: &Job{ID: "x"}, Timestamp: time.Now()})
	}
	assert.Equal(t, 100, len(ch), "buffer capped, extras dropped")
}
