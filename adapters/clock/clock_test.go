package clock_test

import (
	"testing"
	"time"

	"github.com/artpar/facet/adapters/clock"
)

func TestSystemIsUTC(t *testing.T) {
	before := time.Now()
	got := clock.System.Now()

	if got.Location() != time.UTC {
		t.Errorf("location = %v, want UTC", got.Location())
	}
	if got.Before(before.Add(-time.Second)) {
		t.Errorf("Now() = %v, expected around %v", got, before)
	}
}

func TestFunc(t *testing.T) {
	fixed := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	c := clock.Func(func() time.Time { return fixed })
	if !c.Now().Equal(fixed) {
		t.Errorf("Now() = %v", c.Now())
	}
}

func TestManual(t *testing.T) {
	start := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	c := clock.NewManual(start)

	if !c.Now().Equal(start) {
		t.Errorf("Now() = %v, want %v", c.Now(), start)
	}

	c.Advance(90 * time.Minute)
	if want := start.Add(90 * time.Minute); !c.Now().Equal(want) {
		t.Errorf("after Advance Now() = %v, want %v", c.Now(), want)
	}

	later := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	c.Set(later)
	if !c.Now().Equal(later) {
		t.Errorf("after Set Now() = %v, want %v", c.Now(), later)
	}
}
