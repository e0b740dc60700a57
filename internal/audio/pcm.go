package audio

import (
	"encoding/binary"
	"math"
	"time"
)

const (
	// InputSampleRate is the capture rate expected by the upstream voice model.
	InputSampleRate = 16000
	// OutputSampleRate is the rate of synthesized audio.
	OutputSampleRate = 24000
	BytesPerSample   = 2

	InputMIMEType = "audio/pcm;rate=16000"
)

// Float32ToPCM16 converts normalized float samples to PCM16LE bytes,
// clamping to [-1, 1].
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v*32767)))
	}
	return out
}

// PCM16ToFloat32 converts PCM16LE bytes to normalized float samples.
func PCM16ToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/BytesPerSample)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return out
}

// BytesToSamples converts raw PCM16 little-endian bytes to int16 samples.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// SamplesToBytes converts int16 samples to raw PCM16 little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}

// Duration reports how long pcm lasts at sampleRate (mono PCM16).
func Duration(pcm []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := int64(len(pcm) / BytesPerSample)
	return time.Duration(samples * int64(time.Second) / int64(sampleRate))
}

// FrameBytes is the byte size of one mono PCM16 frame of length d.
func FrameBytes(sampleRate int, d time.Duration) int {
	return int(int64(sampleRate)*int64(d)/int64(time.Second)) * BytesPerSample
}

// Resample converts mono PCM16 between rates with linear interpolation.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 || fromRate <= 0 || toRate <= 0 {
		return samples
	}
	ratio := float64(fromRate) / float64(toRate)
	n := int(float64(len(samples)) / ratio)
	out := make([]int16, n)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(idx)
		s1, s2 := float64(samples[idx]), float64(samples[idx+1])
		out[i] = int16(s1 + frac*(s2-s1))
	}
	return out
}
