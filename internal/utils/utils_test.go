package utils

import (
	"math"
	"testing"
)

func TestHaversineKmMoscowToPetersburg(t *testing.T) {
	d := HaversineKm(55.7558, 37.6173, 59.9343, 30.3351)
	if math.Abs(d-634) > 5 {
		t.Fatalf("unexpected distance: %f", d)
	}
}

func TestHaversineKmSamePoint(t *testing.T) {
	if d := HaversineKm(55.75, 37.61, 55.75, 37.61); d != 0 {
		t.Fatalf("expected zero distance, got %f", d)
	}
}

func TestValidCoordinates(t *testing.T) {
	if ValidCoordinates(0, 0) {
		t.Fatalf("null island must be rejected")
	}
	if ValidCoordinates(91, 10) {
		t.Fatalf("latitude out of range must be rejected")
	}
	if !ValidCoordinates(55.75, 37.61) {
		t.Fatalf("expected Moscow to be valid")
	}
}

func TestStripeStable(t *testing.T) {
	a := Stripe("chat-1", 16)
	b := Stripe("chat-1", 16)
	if a != b || a < 0 || a >= 16 {
		t.Fatalf("unexpected stripe %d/%d", a, b)
	}
	if Stripe("x", 1) != 0 {
		t.Fatalf("single bucket must be 0")
	}
}
