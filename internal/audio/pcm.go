package audio

import "math"

// SamplesFromPCM16LE decodes little-endian 16-bit PCM bytes into int16 samples.
// A trailing odd byte is ignored.
func SamplesFromPCM16LE(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return out
}

// PCM16LEFromSamples encodes int16 samples as little-endian bytes.
func PCM16LEFromSamples(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// DownmixStereo16 averages interleaved stereo PCM16LE frames into mono
// in a fresh buffer. A trailing partial frame is dropped.
func DownmixStereo16(b []byte) []byte {
	frames := len(b) / 4
	out := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		j := i * 4
		l := int16(b[j]) | int16(b[j+1])<<8
		r := int16(b[j+2]) | int16(b[j+3])<<8
		m := int16((int32(l) + int32(r)) / 2)
		out[i*2] = byte(m)
		out[i*2+1] = byte(m >> 8)
	}
	return out
}

// RMSLevel computes the root-mean-square level of PCM16LE mono audio,
// normalized to [0, 1]. Empty input yields 0.
func RMSLevel(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		sum += s * s
	}
	return math.Sqrt(sum/float64(n)) / 32768.0
}
