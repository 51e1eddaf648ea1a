package events

import (
	"sync"
	"testing"
	"time"
)

func TestBusFanOut(t *testing.T) {
	bus := NewBus()
	var first, second []string
	bus.Subscribe(func(evt Event) { first = append(first, evt.EventType()) })
	bus.Subscribe(func(evt Event) { second = append(second, evt.EventType()) })

	bus.Emit(LeaseLifecycle{Type: TypeLeaseAcquired, LeaseID: 1})
	bus.Emit(HubLifecycle{Type: TypeHubConnected, Address: "0xhub"})

	want := []string{TypeLeaseAcquired, TypeHubConnected}
	for i, got := range [][]string{first, second} {
		if len(got) != len(want) {
			t.Fatalf("subscriber %d received %v", i, got)
		}
		for j := range want {
			if got[j] != want[j] {
				t.Fatalf("subscriber %d event %d: %s, want %s", i, j, got[j], want[j])
			}
		}
	}
}

func TestBusConcurrentEmit(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	count := 0
	bus.Subscribe(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Emit(LeaseLifecycle{Type: TypeLeaseRentPayed})
		}()
	}
	wg.Wait()
	if count != 16 {
		t.Fatalf("expected 16 deliveries, got %d", count)
	}
}

func TestLeaseLifecyclePayload(t *testing.T) {
	evt := LeaseLifecycle{
		Type:           TypeLeaseAcquisitionConfirmed,
		LeaseID:        42,
		AssetID:        5,
		Manager:        "0xMANAGER",
		PaidMonths:     3,
		StartDate:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Confirmed:      true,
		CheckedAtBlock: 100,
	}
	payload := evt.Event()
	if payload.Type != TypeLeaseAcquisitionConfirmed {
		t.Fatalf("payload type %s", payload.Type)
	}
	if payload.Attributes["leaseId"] != "42" || payload.Attributes["block"] != "100" {
		t.Fatalf("numeric attributes: %v", payload.Attributes)
	}
	if payload.Attributes["manager"] != "0xmanager" {
		t.Fatalf("address not normalized: %v", payload.Attributes["manager"])
	}
	if payload.Attributes["confirmed"] != "true" {
		t.Fatalf("confirmed flag: %v", payload.Attributes["confirmed"])
	}
}

func TestNoopEmitter(t *testing.T) {
	var e NoopEmitter
	e.Emit(HubLifecycle{Type: TypeHubDisconnected})
}
