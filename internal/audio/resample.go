package audio

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resampler converts mono PCM16LE audio between sample rates. The zero-delta
// case is a passthrough; otherwise conversion runs through a streaming
// high-quality resampler so successive chunks stay phase-continuous.
type Resampler struct {
	srcRate int
	dstRate int
	rs      resampling.Resampler
}

// NewResampler builds a mono PCM16 resampler from srcRate to dstRate.
func NewResampler(srcRate, dstRate int) (*Resampler, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("invalid resample rates %d -> %d", srcRate, dstRate)
	}
	r := &Resampler{srcRate: srcRate, dstRate: dstRate}
	if srcRate == dstRate {
		return r, nil
	}
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("create resampler: %w", err)
	}
	r.rs = rs
	return r, nil
}

// Resample converts a chunk of mono PCM16LE audio to the destination rate.
// The input chunk boundary need not align with any particular frame size.
func (r *Resampler) Resample(pcm []byte) ([]byte, error) {
	if r.rs == nil {
		out := make([]byte, len(pcm))
		copy(out, pcm)
		return out, nil
	}

	samples := SamplesFromPCM16LE(pcm)
	input := make([]float64, len(samples))
	for i, s := range samples {
		input[i] = float64(s) / 32768.0
	}

	output, err := r.rs.Process(input)
	if err != nil {
		return nil, fmt.Errorf("resample %d -> %d: %w", r.srcRate, r.dstRate, err)
	}

	out := make([]int16, len(output))
	for i, v := range output {
		switch {
		case v > 1.0:
			out[i] = 32767
		case v < -1.0:
			out[i] = -32768
		default:
			out[i] = int16(v * 32767.0)
		}
	}
	return PCM16LEFromSamples(out), nil
}
