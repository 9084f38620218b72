package audio

import "encoding/binary"

// Audio formats used across the pipeline. Narration is synthesized at 24 kHz,
// microphone capture arrives at 48 kHz; both are mono 16-bit little-endian PCM.
const (
	NarrationSampleRate = 24000
	CaptureSampleRate   = 48000
	Channels            = 1
	BitsPerSample       = 16
	BytesPerSample      = BitsPerSample / 8
)

// BytesToSamples interprets b as signed 16-bit little-endian PCM and converts
// it to normalized float32 samples in [-1, 1). A trailing odd byte is ignored.
func BytesToSamples(b []byte) []float32 {
	n := len(b) / BytesPerSample
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(b[i*BytesPerSample:]))
		samples[i] = float32(v) / 32768.0
	}
	return samples
}

// SamplesToBytes quantizes float32 samples to signed 16-bit little-endian PCM.
// Values outside [-1, 1] are clamped to the int16 range.
func SamplesToBytes(samples []float32) []byte {
	b := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		v := int32(s * 32768.0)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(b[i*BytesPerSample:], uint16(int16(v)))
	}
	return b
}

// Duration returns the playback duration in seconds of n samples at rate.
func Duration(n, rate int) float64 {
	return float64(n) / float64(rate)
}
