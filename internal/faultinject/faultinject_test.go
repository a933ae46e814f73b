package faultinject

import (
	"testing"
	"time"
)

func TestShouldFailNonPositiveProbabilityNeverFails(t *testing.T) {
	i := New()
	for n := 0; n < 100; n++ {
		if i.ShouldFail(0) {
			t.Fatalf("ShouldFail(0) returned true")
		}
	}
}

func TestShouldFailProbabilityOneAlwaysFails(t *testing.T) {
	i := New()
	if !i.ShouldFail(1.0) {
		t.Errorf("ShouldFail(1.0) returned false")
	}
}

func TestMaybeDelayZeroDoesNotBlock(t *testing.T) {
	i := New()
	start := time.Now()
	i.MaybeDelay(0)
	if time.Since(start) > 10*time.Millisecond {
		t.Errorf("MaybeDelay(0) should return immediately")
	}
}
