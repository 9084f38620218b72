package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

const wavHeaderSize = 44

// fadeInDuration is how long the leading gain ramp runs. Recordings that start
// at full amplitude produce an audible click; 10 ms is below perception.
const fadeInDuration = 0.010

// normalizeTarget leaves headroom so int16 quantization cannot clip a peak.
const normalizeTarget = 0.8

// normalizeFloor: recordings already louder than this are left untouched.
const normalizeFloor = 0.5

// FadeIn applies a linear 0→1 gain ramp over the first 10 ms of samples,
// in place, and returns the slice. Samples past the ramp are unchanged.
func FadeIn(samples []float32, sampleRate int) []float32 {
	ramp := int(fadeInDuration * float64(sampleRate))
	if ramp > len(samples) {
		ramp = len(samples)
	}
	for i := 0; i < ramp; i++ {
		samples[i] *= float32(i) / float32(ramp)
	}
	return samples
}

// Normalize scales samples so the peak absolute amplitude becomes 0.8.
// Buffers whose peak already exceeds 0.5 are returned unchanged; they are loud
// enough, and re-amplifying a hot recording only adds noise. Silent buffers
// are returned as-is.
func Normalize(samples []float32) []float32 {
	var peak float32
	for _, s := range samples {
		if a := float32(math.Abs(float64(s))); a > peak {
			peak = a
		}
	}
	if peak == 0 || peak > normalizeFloor {
		return samples
	}
	gain := normalizeTarget / peak
	for i := range samples {
		samples[i] *= gain
	}
	return samples
}

// EncodeWAV wraps samples in a minimal RIFF/WAVE container: a 44-byte header
// followed by mono signed 16-bit little-endian PCM.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	payload := SamplesToBytes(samples)

	blockAlign := Channels * BytesPerSample
	byteRate := sampleRate * blockAlign

	buf := make([]byte, wavHeaderSize+len(payload))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(wavHeaderSize+len(payload)-8))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], Channels)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], BitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(payload)))
	copy(buf[wavHeaderSize:], payload)

	return buf
}

// DecodeWAV parses a container produced by EncodeWAV and returns the samples
// and sample rate. It accepts only the minimal mono 16-bit PCM layout.
func DecodeWAV(data []byte) ([]float32, int, error) {
	if len(data) < wavHeaderSize {
		return nil, 0, fmt.Errorf("wav: container too short (%d bytes)", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("wav: bad magic")
	}
	if string(data[12:16]) != "fmt " || string(data[36:40]) != "data" {
		return nil, 0, fmt.Errorf("wav: unexpected chunk layout")
	}
	if format := binary.LittleEndian.Uint16(data[20:22]); format != 1 {
		return nil, 0, fmt.Errorf("wav: unsupported format tag %d", format)
	}
	if ch := binary.LittleEndian.Uint16(data[22:24]); ch != Channels {
		return nil, 0, fmt.Errorf("wav: unsupported channel count %d", ch)
	}
	if bits := binary.LittleEndian.Uint16(data[34:36]); bits != BitsPerSample {
		return nil, 0, fmt.Errorf("wav: unsupported bit depth %d", bits)
	}

	sampleRate := int(binary.LittleEndian.Uint32(data[24:28]))
	payloadSize := int(binary.LittleEndian.Uint32(data[40:44]))
	payload := data[wavHeaderSize:]
	if payloadSize > len(payload) {
		return nil, 0, fmt.Errorf("wav: payload truncated (header says %d, have %d)", payloadSize, len(payload))
	}

	return BytesToSamples(payload[:payloadSize]), sampleRate, nil
}
