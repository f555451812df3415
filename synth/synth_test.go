package synth

import (
	"math"
	"testing"
)

func testParams() Params {
	p := DefaultParams()
	p.SampleRate = 1000 // keep envelope phases short
	return p
}

func renderFrames(s *Synth, n int) float32 {
	var peak float32
	for i := 0; i < n; i++ {
		l, _ := s.RenderFrame()
		if a := float32(math.Abs(float64(l))); a > peak {
			peak = a
		}
	}
	return peak
}

func TestSilentWhenIdle(t *testing.T) {
	s := New(testParams())
	if peak := renderFrames(s, 100); peak != 0 {
		t.Errorf("idle synth produced output, peak %v", peak)
	}
}

func TestPlayNoteProducesOutput(t *testing.T) {
	s := New(testParams())
	if !s.PlayNote(0, 69, 100) {
		t.Fatal("PlayNote returned false")
	}
	if peak := renderFrames(s, 200); peak == 0 {
		t.Error("voice produced no output")
	}
	if s.ActiveVoices() != 1 {
		t.Errorf("ActiveVoices = %d, want 1", s.ActiveVoices())
	}
}

func TestStopNoteReleasesVoice(t *testing.T) {
	s := New(testParams())
	s.PlayNote(0, 60, 100)
	renderFrames(s, 50)
	if !s.StopNote(0, 60) {
		t.Fatal("StopNote returned false")
	}
	// Release is 150ms = 150 frames at 1kHz; give it room to finish.
	renderFrames(s, 400)
	if s.ActiveVoices() != 0 {
		t.Errorf("voice still active after release, ActiveVoices = %d", s.ActiveVoices())
	}
	if peak := renderFrames(s, 50); peak != 0 {
		t.Errorf("output after release finished, peak %v", peak)
	}
}

func TestStopNoteWrongPitchKeepsVoice(t *testing.T) {
	s := New(testParams())
	s.PlayNote(0, 60, 100)
	s.StopNote(0, 61)
	renderFrames(s, 400)
	if s.ActiveVoices() != 1 {
		t.Errorf("ActiveVoices = %d, want 1", s.ActiveVoices())
	}
}

func TestPolyphonyLimitSteals(t *testing.T) {
	p := testParams()
	p.Polyphony = 4
	s := New(p)
	for i := 0; i < 8; i++ {
		if !s.PlayNote(0, uint8(60+i), 100) {
			t.Fatalf("PlayNote %d returned false", i)
		}
	}
	if s.ActiveVoices() != 4 {
		t.Errorf("ActiveVoices = %d, want 4", s.ActiveVoices())
	}
}

func TestAllNotesOffControl(t *testing.T) {
	s := New(testParams())
	s.PlayNote(0, 60, 100)
	s.PlayNote(0, 64, 100)
	s.PlayNote(1, 67, 100)
	renderFrames(s, 50)

	if !s.SendControl(0, 123, 0) {
		t.Fatal("SendControl returned false")
	}
	renderFrames(s, 400)
	// Only the channel 1 voice should survive.
	if s.ActiveVoices() != 1 {
		t.Errorf("ActiveVoices = %d, want 1", s.ActiveVoices())
	}
}

func TestInvalidArguments(t *testing.T) {
	s := New(testParams())
	if s.PlayNote(16, 60, 100) {
		t.Error("PlayNote accepted channel 16")
	}
	if s.SetProgram(16, 0) {
		t.Error("SetProgram accepted channel 16")
	}
	if s.SendControl(16, 123, 0) {
		t.Error("SendControl accepted channel 16")
	}
}

func TestProgramWaveformFamilies(t *testing.T) {
	cases := []struct {
		program uint8
		want    waveform
	}{
		{0, waveSine},
		{31, waveSine},
		{32, waveTriangle},
		{63, waveTriangle},
		{64, waveSquare},
		{95, waveSquare},
		{96, waveSaw},
		{127, waveSaw},
	}
	for _, c := range cases {
		if got := programWaveform(c.program); got != c.want {
			t.Errorf("programWaveform(%d) = %v, want %v", c.program, got, c.want)
		}
	}
}

func TestPitchFreq(t *testing.T) {
	if f := pitchFreq(69); math.Abs(f-440) > 1e-9 {
		t.Errorf("pitch 69 = %v Hz, want 440", f)
	}
	if f := pitchFreq(81); math.Abs(f-880) > 1e-6 {
		t.Errorf("pitch 81 = %v Hz, want 880", f)
	}
}
