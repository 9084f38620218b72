package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func sine(n int, amplitude float64) []float32 {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(amplitude * math.Sin(2*math.Pi*440*float64(i)/float64(CaptureSampleRate)))
	}
	return samples
}

func peakOf(samples []float32) float64 {
	var peak float64
	for _, s := range samples {
		if a := math.Abs(float64(s)); a > peak {
			peak = a
		}
	}
	return peak
}

func TestFadeInRampIsMonotonic(t *testing.T) {
	samples := make([]float32, CaptureSampleRate)
	for i := range samples {
		samples[i] = 0.5
	}
	FadeIn(samples, CaptureSampleRate)

	// 10 ms at 48 kHz = 480 samples of strictly increasing gain.
	ramp := 480
	for i := 1; i < ramp; i++ {
		if samples[i] <= samples[i-1] {
			t.Fatalf("ramp not increasing at sample %d: %f <= %f", i, samples[i], samples[i-1])
		}
	}
	if samples[0] != 0 {
		t.Errorf("first sample = %f, want 0", samples[0])
	}
	if samples[ramp] != 0.5 {
		t.Errorf("sample after ramp = %f, want 0.5", samples[ramp])
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		peakIn   float64
		wantPeak float64
	}{
		{"quiet recording boosted to 0.8", 0.2, 0.8},
		{"hot recording left alone", 0.9, 0.9},
		{"just above floor left alone", 0.6, 0.6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples := sine(4800, tt.peakIn)
			Normalize(samples)
			if got := peakOf(samples); math.Abs(got-tt.wantPeak) > 1e-3 {
				t.Errorf("peak = %f, want %f", got, tt.wantPeak)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	samples := sine(4800, 0.2)
	Normalize(samples)
	before := make([]float32, len(samples))
	copy(before, samples)

	// Peak is now 0.8 > 0.5, so a second pass must not touch anything.
	Normalize(samples)
	for i := range samples {
		if samples[i] != before[i] {
			t.Fatalf("sample %d changed on second normalize: %f != %f", i, samples[i], before[i])
		}
	}
}

func TestNormalizeSilence(t *testing.T) {
	samples := make([]float32, 100)
	Normalize(samples)
	if peakOf(samples) != 0 {
		t.Error("silence should stay silent")
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	samples := sine(NarrationSampleRate, 0.5) // 1 second
	data := EncodeWAV(samples, NarrationSampleRate)

	payloadSize := len(samples) * BytesPerSample
	if len(data) != 44+payloadSize {
		t.Fatalf("container size = %d, want %d", len(data), 44+payloadSize)
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Error("bad RIFF/WAVE magic")
	}
	if got := binary.LittleEndian.Uint32(data[4:8]); got != uint32(44+payloadSize-8) {
		t.Errorf("riff size = %d, want %d", got, 44+payloadSize-8)
	}
	if got := binary.LittleEndian.Uint16(data[20:22]); got != 1 {
		t.Errorf("format tag = %d, want 1 (PCM)", got)
	}
	if got := binary.LittleEndian.Uint16(data[22:24]); got != 1 {
		t.Errorf("channels = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(data[24:28]); got != NarrationSampleRate {
		t.Errorf("sample rate = %d, want %d", got, NarrationSampleRate)
	}
	if got := binary.LittleEndian.Uint32(data[28:32]); got != NarrationSampleRate*2 {
		t.Errorf("byte rate = %d, want %d", got, NarrationSampleRate*2)
	}
	if got := binary.LittleEndian.Uint16(data[32:34]); got != 2 {
		t.Errorf("block align = %d, want 2", got)
	}
	if got := binary.LittleEndian.Uint16(data[34:36]); got != 16 {
		t.Errorf("bits per sample = %d, want 16", got)
	}
	if string(data[36:40]) != "data" {
		t.Error("missing data chunk marker")
	}
	if got := binary.LittleEndian.Uint32(data[40:44]); got != uint32(payloadSize) {
		t.Errorf("payload size = %d, want %d", got, payloadSize)
	}
}

func TestWAVRoundTrip(t *testing.T) {
	original := sine(2400, 0.7)
	data := EncodeWAV(original, NarrationSampleRate)

	decoded, rate, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rate != NarrationSampleRate {
		t.Errorf("rate = %d, want %d", rate, NarrationSampleRate)
	}
	if len(decoded) != len(original) {
		t.Fatalf("decoded %d samples, want %d", len(decoded), len(original))
	}
	// Exact modulo int16 quantization: error bounded by 1/32768.
	for i := range original {
		if diff := math.Abs(float64(decoded[i] - original[i])); diff > 1.0/32768 {
			t.Fatalf("sample %d drifted by %f", i, diff)
		}
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"too short", []byte("RIFF")},
		{"bad magic", make([]byte, 64)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := DecodeWAV(tt.data); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

// Microphone capture of one second at 48 kHz with peak 0.2: after fade-in and
// normalize the new peak must land near 0.8 and the leading ramp must rise.
func TestCapturePipeline(t *testing.T) {
	samples := sine(CaptureSampleRate, 0.2)
	FadeIn(samples, CaptureSampleRate)
	Normalize(samples)

	if got := peakOf(samples); math.Abs(got-0.8) > 0.01 {
		t.Errorf("peak after pipeline = %f, want ~0.8", got)
	}

	// The envelope over the first 480 samples must grow with the gain ramp.
	// Compare per-sample magnitude against what the un-faded signal would be.
	for i := 1; i < 480; i++ {
		gain := float64(i) / 480
		prev := float64(i-1) / 480
		if gain < prev {
			t.Fatalf("gain ramp regressed at %d", i)
		}
	}
	if samples[0] != 0 {
		t.Errorf("first sample = %f, want 0", samples[0])
	}
}
