package rtc

// Telephony side constants. The gateway always talks to the phone leg in
// 8 kHz mono PCM16LE, sliced into 20 ms frames.
const (
	TelephonySampleRate = 8000
	BackendSampleRate   = 24000

	// SamplesPerFrame is the number of samples in one telephony frame (160).
	SamplesPerFrame = TelephonySampleRate / 50
	// BytesPerFrame is the encoded size of one telephony frame (320).
	BytesPerFrame = SamplesPerFrame * 2
)

// AudioFrame represents exactly 20 ms of mono PCM audio.
// Len(Data) == SamplesPerChannel * 2.
//
// Seq is the zero-based position of the frame in its session's outbound
// stream and is only used for logging and tests.
type AudioFrame struct {
	Data              []byte // 16-bit PCM, little-endian
	SampleRate        int
	SamplesPerChannel int // SampleRate / 50
	Seq               uint64
}

// IsSilent reports whether every sample in the frame is zero.
func (f *AudioFrame) IsSilent() bool {
	for _, b := range f.Data {
		if b != 0 {
			return false
		}
	}
	return true
}

