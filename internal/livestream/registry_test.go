package livestream

import "testing"

// S6: starting a live stream, receiving fan-out, then stopping it cleanly
// removes the sink and further publishes go nowhere.
func TestStartPublishStopLifecycle(t *testing.T) {
	r := New(nil)

	var got []any
	r.Start("mon-1", "startup.host.cpu", func(source string, value any, ts int64) {
		got = append(got, value)
	})

	if !r.Active("mon-1") {
		t.Fatal("expected monitor to be active after Start")
	}

	r.Publish("mon-1", "cpu", 42.0, 1000)
	if len(got) != 1 || got[0] != 42.0 {
		t.Fatalf("expected sink to receive published value, got %v", got)
	}

	r.Stop("mon-1", "startup.host.cpu")
	if r.Active("mon-1") {
		t.Fatal("expected monitor to be inactive after Stop")
	}

	r.Publish("mon-1", "cpu", 99.0, 2000)
	if len(got) != 1 {
		t.Fatalf("expected no further delivery after Stop, got %v", got)
	}
}

func TestStoppingUnknownStreamIsNoop(t *testing.T) {
	r := New(nil)
	r.Stop("nonexistent", "whatever")
	r.Start("mon-1", "a", func(string, any, int64) {})
	r.Stop("mon-1", "b") // different routing key, never started
	if !r.Active("mon-1") {
		t.Fatal("expected unrelated stream to remain active")
	}
}

func TestStartingTwiceReplacesSinkIdempotently(t *testing.T) {
	r := New(nil)

	var firstCalls, secondCalls int
	r.Start("mon-1", "k", func(string, any, int64) { firstCalls++ })
	r.Start("mon-1", "k", func(string, any, int64) { secondCalls++ })

	r.Publish("mon-1", "cpu", 1.0, 0)

	if firstCalls != 0 {
		t.Fatalf("expected the replaced sink to never fire, got %d calls", firstCalls)
	}
	if secondCalls != 1 {
		t.Fatalf("expected exactly the replacing sink to fire once, got %d", secondCalls)
	}
}

func TestPublishToUnknownMonitorIsNoop(t *testing.T) {
	r := New(nil)
	// Must not panic even though nothing is registered.
	r.Publish("ghost", "cpu", 1.0, 0)
}

func TestMultipleRoutingKeysOnSameMonitorAreIndependent(t *testing.T) {
	r := New(nil)
	var a, b int
	r.Start("mon-1", "a", func(string, any, int64) { a++ })
	r.Start("mon-1", "b", func(string, any, int64) { b++ })

	r.Publish("mon-1", "cpu", 1.0, 0)
	if a != 1 || b != 1 {
		t.Fatalf("expected both routing keys to receive the publish, got a=%d b=%d", a, b)
	}

	r.Stop("mon-1", "a")
	r.Publish("mon-1", "cpu", 2.0, 0)
	if a != 1 || b != 2 {
		t.Fatalf("expected only b to receive after stopping a, got a=%d b=%d", a, b)
	}
}
