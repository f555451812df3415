package timemap

import (
	"math"
	"testing"
)

func TestEmptyMapDefaults(t *testing.T) {
	m := New()
	if got := m.TempoAt(0); got != 120.0 {
		t.Errorf("TempoAt(0) on empty map: got %f, want 120", got)
	}
	num, den := m.TimeSignatureAt(9999)
	if num != 4 || den != 4 {
		t.Errorf("TimeSignatureAt on empty map: got %d/%d, want 4/4", num, den)
	}
}

func TestMostRecentChangeWins(t *testing.T) {
	m := New()
	m.SetBPMAt(0, 120)
	m.SetBPMAt(480, 90)
	m.SetBPMAt(960, 150)

	cases := []struct {
		tick uint64
		want float64
	}{
		{0, 120},
		{479, 120},
		{480, 90},
		{959, 90},
		{960, 150},
		{100000, 150},
	}
	for _, c := range cases {
		if got := m.TempoAt(c.tick); math.Abs(got-c.want) > 0.01 {
			t.Errorf("TempoAt(%d): got %f, want %f", c.tick, got, c.want)
		}
	}
}

func TestOverwriteAtSameTick(t *testing.T) {
	m := New()
	m.SetBPMAt(480, 90)
	m.SetBPMAt(480, 140)
	if n := len(m.TempoChanges()); n != 1 {
		t.Fatalf("expected 1 tempo change after overwrite, got %d", n)
	}
	if got := m.TempoAt(480); math.Abs(got-140) > 0.01 {
		t.Errorf("TempoAt(480) after overwrite: got %f, want 140", got)
	}

	m.SetTimeSignatureAt(0, 3, 4)
	m.SetTimeSignatureAt(0, 6, 8)
	num, den := m.TimeSignatureAt(0)
	if num != 6 || den != 8 {
		t.Errorf("time signature after overwrite: got %d/%d, want 6/8", num, den)
	}
}

func TestChangesStaySorted(t *testing.T) {
	m := New()
	m.SetBPMAt(960, 150)
	m.SetBPMAt(0, 120)
	m.SetBPMAt(480, 90)

	changes := m.TempoChanges()
	for i := 1; i < len(changes); i++ {
		if changes[i-1].Tick >= changes[i].Tick {
			t.Fatalf("tempo changes not sorted: %v", changes)
		}
	}
}

func TestTicksPerSecond(t *testing.T) {
	// 120 BPM at 480 ticks/beat = 960 ticks/sec.
	if got := TicksPerSecond(120, 480); math.Abs(got-960) > 1e-9 {
		t.Errorf("TicksPerSecond(120, 480): got %f, want 960", got)
	}
}

func TestTimeAtIntegratesSegments(t *testing.T) {
	m := New()
	m.SetBPMAt(0, 120) // 960 ticks/sec
	m.SetBPMAt(960, 60) // after 1s, 480 ticks/sec

	if got := m.TimeAt(960, 480); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("TimeAt(960): got %f, want 1.0", got)
	}
	// 960 ticks at 120 BPM (1s) + 480 ticks at 60 BPM (1s).
	if got := m.TimeAt(1440, 480); math.Abs(got-2.0) > 1e-9 {
		t.Errorf("TimeAt(1440): got %f, want 2.0", got)
	}
}

func TestTimeAtDeterministic(t *testing.T) {
	m := New()
	m.SetBPMAt(0, 133)
	m.SetBPMAt(777, 61)
	a := m.TimeAt(5000, 480)
	b := m.TimeAt(5000, 480)
	if a != b {
		t.Errorf("TimeAt not deterministic: %f vs %f", a, b)
	}
}

func TestTickAtInvertsTimeAt(t *testing.T) {
	m := New()
	m.SetBPMAt(0, 120)
	m.SetBPMAt(960, 60)
	m.SetBPMAt(1440, 180)

	for _, tick := range []uint64{0, 100, 960, 1200, 1440, 4000} {
		sec := m.TimeAt(tick, 480)
		got := m.TickAt(sec, 480)
		if diff := int64(got) - int64(tick); diff < -1 || diff > 1 {
			t.Errorf("TickAt(TimeAt(%d)) = %d", tick, got)
		}
	}
}
