package audio

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidRate is returned when a resampler is configured with a
// non-positive sample rate.
var ErrInvalidRate = errors.New("invalid sample rate")

const (
	// zeroCrossings is the number of sinc lobes kept on each side of the
	// filter centre, per unit of the larger conversion factor.
	zeroCrossings = 16

	// rolloff places the cutoff slightly below the lower Nyquist frequency.
	rolloff = 0.9
)

// Resampler converts a mono PCM16 stream between two fixed sample rates.
//
// It is a rational polyphase converter: the stream is conceptually upsampled
// by up, low-pass filtered with a Blackman-windowed sinc, and decimated by
// down. Filter history and the output position persist between calls to
// Process, so splitting the input into chunks yields exactly the same output
// as processing it in one call.
//
// A Resampler is not safe for concurrent use. Each session owns one instance
// per direction.
type Resampler struct {
	up   int64
	down int64
	taps []float64

	hist      []float64 // input samples; hist[0] has absolute index histStart
	histStart int64
	inCount   int64 // total input samples consumed
	outIndex  int64 // absolute index of the next output sample
}

// NewResampler creates a resampler from inRate to outRate.
func NewResampler(inRate, outRate int) (*Resampler, error) {
	if inRate <= 0 || outRate <= 0 {
		return nil, fmt.Errorf("%w: %d -> %d", ErrInvalidRate, inRate, outRate)
	}

	g := gcd(inRate, outRate)
	r := &Resampler{
		up:   int64(outRate / g),
		down: int64(inRate / g),
	}
	r.taps = designFilter(r.up, r.down)
	return r, nil
}

// Process consumes in and returns every output sample that can be computed
// from the input seen so far.
func (r *Resampler) Process(in []int16) []int16 {
	if len(in) == 0 {
		return nil
	}

	if r.up == 1 && r.down == 1 {
		out := make([]int16, len(in))
		copy(out, in)
		r.inCount += int64(len(in))
		r.outIndex += int64(len(in))
		return out
	}

	for _, s := range in {
		r.hist = append(r.hist, float64(s))
	}
	r.inCount += int64(len(in))

	numTaps := int64(len(r.taps))
	out := make([]int16, 0, int(int64(len(in))*r.up/r.down)+1)

	for {
		u := r.outIndex * r.down
		newest := u / r.up
		if newest >= r.inCount {
			break
		}

		var acc float64
		for i := newest; i >= 0; i-- {
			k := u - i*r.up
			if k >= numTaps {
				break
			}
			idx := i - r.histStart
			if idx < 0 {
				break
			}
			acc += r.hist[idx] * r.taps[k]
		}

		out = append(out, clampSample(acc))
		r.outIndex++
	}

	r.trim()
	return out
}

// Drain ends the current stream. It feeds enough silence to push the filter
// delay out, returns those trailing samples and resets the resampler. Draining
// an idle resampler returns nil.
func (r *Resampler) Drain() []int16 {
	if r.inCount == 0 {
		return nil
	}
	if r.up == 1 && r.down == 1 {
		r.Reset()
		return nil
	}

	// Every output whose window still reaches the last real input sample.
	zeros := (int64(len(r.taps)) + r.up - 1) / r.up
	out := r.Process(make([]int16, zeros))
	r.Reset()
	return out
}

// Reset discards all filter history and restarts the output position.
func (r *Resampler) Reset() {
	r.hist = nil
	r.histStart = 0
	r.inCount = 0
	r.outIndex = 0
}

// trim drops input samples that no future output can reference.
func (r *Resampler) trim() {
	u := r.outIndex * r.down
	oldest := u - int64(len(r.taps)-1)
	if oldest <= 0 {
		return
	}
	minNeeded := (oldest + r.up - 1) / r.up
	drop := minNeeded - r.histStart
	if drop <= 0 {
		return
	}
	if drop > int64(len(r.hist)) {
		drop = int64(len(r.hist))
	}
	r.hist = r.hist[drop:]
	r.histStart += drop
}

// designFilter builds the prototype low-pass filter at the upsampled rate.
func designFilter(up, down int64) []float64 {
	if up == 1 && down == 1 {
		return []float64{1}
	}

	factor := up
	if down > factor {
		factor = down
	}
	half := int64(zeroCrossings) * factor
	n := 2*half + 1

	// Cutoff in cycles per upsampled sample.
	fc := rolloff * 0.5 / float64(factor)

	taps := make([]float64, n)
	for k := int64(0); k < n; k++ {
		x := float64(k - half)
		w := 0.42 - 0.5*math.Cos(2*math.Pi*float64(k)/float64(n-1)) + 0.08*math.Cos(4*math.Pi*float64(k)/float64(n-1))
		taps[k] = float64(up) * 2 * fc * sinc(2*fc*x) * w
	}
	return taps
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}

func clampSample(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
