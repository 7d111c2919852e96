package progress

import (
	"testing"
	"time"

	"github.com/cartomix/opus/internal/domain"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := New()
	ch, cancel := bus.Subscribe("s1")
	defer cancel()

	bus.Publish(Event{SessionID: "s1", Phase: domain.PhaseRendering, Message: "rendering segment 1"})

	select {
	case e := <-ch:
		if e.Phase != domain.PhaseRendering {
			t.Errorf("expected rendering phase, got %s", e.Phase)
		}
	case <-time.After(time.Second):
		t.Fatal("expected an event within 1s")
	}
}

func TestPublishDoesNotCrossSessionBoundaries(t *testing.T) {
	bus := New()
	ch1, cancel1 := bus.Subscribe("s1")
	defer cancel1()
	ch2, cancel2 := bus.Subscribe("s2")
	defer cancel2()

	bus.Publish(Event{SessionID: "s1", Phase: domain.PhaseAnalyzing})

	select {
	case <-ch2:
		t.Fatal("s2 subscriber should not receive s1's event")
	default:
	}

	select {
	case e := <-ch1:
		if e.SessionID != "s1" {
			t.Errorf("expected s1 event, got %s", e.SessionID)
		}
	default:
		t.Fatal("expected s1 subscriber to receive its event")
	}
}

func TestCancelStopsFurtherDelivery(t *testing.T) {
	bus := New()
	ch, cancel := bus.Subscribe("s1")
	cancel()

	bus.Publish(Event{SessionID: "s1", Phase: domain.PhaseReady})

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after cancel")
	}
}

func TestPublishToSessionWithNoSubscribersDoesNotPanic(t *testing.T) {
	bus := New()
	bus.Publish(Event{SessionID: "nobody-listening"})
}
