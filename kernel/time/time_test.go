package time

import "testing"

func TestTickAdvancesNow(t *testing.T) {
	resetForTesting()

	if got := Now(); got != 0 {
		t.Fatalf("expected Now to return 0 after reset; got %d", got)
	}

	for i := 0; i < 10; i++ {
		Tick()
	}

	if got := Now(); got != 10 {
		t.Fatalf("expected Now to return 10 after 10 ticks; got %d", got)
	}
}

func TestAfterUsesTickFrequency(t *testing.T) {
	resetForTesting()

	// With a 1000Hz tick frequency, a 4 second relative deadline computed
	// at tick 0 lands on timestamp 4000.
	deadline := Now().After(4)
	if deadline != 4000 {
		t.Fatalf("expected deadline to be 4000; got %d", deadline)
	}

	for i := 0; i < 3999; i++ {
		Tick()
	}
	if !Now().Before(deadline) {
		t.Fatal("expected tick 3999 to read before the deadline")
	}

	Tick()
	if Now().Before(deadline) {
		t.Fatal("expected tick 4000 to reach the deadline")
	}
}
