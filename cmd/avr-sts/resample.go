package main

import (
	"fmt"

	"github.com/cierrateam/avr-sts-openai/pkg/audio"
	"github.com/cierrateam/avr-sts-openai/pkg/audio/wav"
)

type resampleStats struct {
	inRate     int
	samplesIn  int
	samplesOut int
	frames     int
}

// resampleFile converts in to outRate. With frame set, the output is cut
// into 20 ms frames and flushed the way a response boundary is.
func resampleFile(in, out string, outRate int, frame bool) (resampleStats, error) {
	r, err := wav.NewReader(in)
	if err != nil {
		return resampleStats{}, err
	}
	defer r.Close()

	stats := resampleStats{inRate: int(r.Header().SampleRate)}
	samples, err := r.ReadSamples()
	if err != nil {
		return stats, err
	}
	stats.samplesIn = len(samples)

	rs, err := audio.NewResampler(stats.inRate, outRate)
	if err != nil {
		return stats, err
	}
	converted := rs.Process(samples)

	if frame {
		f := audio.NewFramer(outRate, audio.TrailingSilenceFrames)
		frames := append(f.Push(converted), f.Flush()...)
		framed := make([]int16, 0, len(frames)*outRate/50)
		for _, fr := range frames {
			framed = append(framed, audio.BytesToSamples(fr.Data)...)
		}
		converted = framed
		stats.frames = len(frames)
	}
	stats.samplesOut = len(converted)

	w, err := wav.NewWriter(out, uint32(outRate))
	if err != nil {
		return stats, err
	}
	if err := w.WriteSamples(converted); err != nil {
		w.Close()
		return stats, fmt.Errorf("failed to write %s: %w", out, err)
	}
	if err := w.Close(); err != nil {
		return stats, fmt.Errorf("failed to finalize %s: %w", out, err)
	}
	return stats, nil
}
