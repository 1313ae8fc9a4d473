package audio

import "github.com/cierrateam/avr-sts-openai/pkg/rtc"

// TrailingSilenceFrames is the number of all-zero frames appended after the
// padded remainder on flush. Downstream jitter buffers otherwise tend to clip
// the last syllable of an utterance.
const TrailingSilenceFrames = 2

// Framer accumulates PCM16 samples and slices them into fixed 20 ms frames.
// It never emits a partial frame except from Flush, which zero-pads it.
//
// A Framer is not safe for concurrent use.
type Framer struct {
	sampleRate      int
	samplesPerFrame int
	silenceFrames   int
	pending         []int16
	seq             uint64
}

// NewFramer creates a framer producing 20 ms frames at sampleRate, followed
// by silenceFrames zero frames on every non-empty flush.
func NewFramer(sampleRate, silenceFrames int) *Framer {
	return &Framer{
		sampleRate:      sampleRate,
		samplesPerFrame: sampleRate / 50,
		silenceFrames:   silenceFrames,
	}
}

// NewTelephonyFramer creates the 8 kHz framer used for the phone leg.
func NewTelephonyFramer() *Framer {
	return NewFramer(rtc.TelephonySampleRate, TrailingSilenceFrames)
}

// Push appends samples and returns every complete frame now available, in
// order. Leftover samples stay buffered.
func (f *Framer) Push(samples []int16) []rtc.AudioFrame {
	if len(samples) == 0 {
		return nil
	}
	f.pending = append(f.pending, samples...)

	var frames []rtc.AudioFrame
	for len(f.pending) >= f.samplesPerFrame {
		frames = append(frames, f.frame(f.pending[:f.samplesPerFrame]))
		f.pending = f.pending[f.samplesPerFrame:]
	}

	// Compact so the backing array does not grow with the stream.
	if len(f.pending) == 0 {
		f.pending = nil
	} else if len(frames) > 0 {
		f.pending = append([]int16(nil), f.pending...)
	}
	return frames
}

// Flush drains the framer: remaining full frames, one zero-padded frame for
// any remainder, then the trailing silence frames. Flushing an empty framer
// returns nil.
func (f *Framer) Flush() []rtc.AudioFrame {
	if len(f.pending) == 0 {
		return nil
	}

	var frames []rtc.AudioFrame
	for len(f.pending) >= f.samplesPerFrame {
		frames = append(frames, f.frame(f.pending[:f.samplesPerFrame]))
		f.pending = f.pending[f.samplesPerFrame:]
	}

	if len(f.pending) > 0 {
		padded := make([]int16, f.samplesPerFrame)
		copy(padded, f.pending)
		frames = append(frames, f.frame(padded))
	}

	silence := make([]int16, f.samplesPerFrame)
	for i := 0; i < f.silenceFrames; i++ {
		frames = append(frames, f.frame(silence))
	}

	f.pending = nil
	return frames
}

// Reset discards buffered samples without emitting them.
func (f *Framer) Reset() {
	f.pending = nil
}

// Pending returns the number of buffered samples not yet emitted.
func (f *Framer) Pending() int {
	return len(f.pending)
}

func (f *Framer) frame(samples []int16) rtc.AudioFrame {
	fr := rtc.AudioFrame{
		Data:              SamplesToBytes(samples),
		SampleRate:        f.sampleRate,
		SamplesPerChannel: f.samplesPerFrame,
		Seq:               f.seq,
	}
	f.seq++
	return fr
}
