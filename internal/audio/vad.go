package audio

import "encoding/binary"

// Edge is a voice-activity transition detected at a frame boundary.
type Edge int

const (
	EdgeNone Edge = iota
	EdgeSpeechStart
	EdgeSpeechEnd
)

// Aggressiveness maps the 0-3 scale to mean-amplitude thresholds for
// 16-bit PCM. Higher settings demand louder audio before a frame counts
// as speech.
var aggressivenessThresholds = [4]float64{250, 400, 550, 700}

// Config configures a Detector.
type Config struct {
	// Aggressiveness on the 0-3 scale.
	Aggressiveness int
	// StartFrames is the number of consecutive speech frames before a
	// speech_start edge fires.
	StartFrames int
	// EndFrames is the number of consecutive non-speech frames before a
	// speech_end edge fires.
	EndFrames int
	// PreSpeechFrames is the pre-speech ring capacity in frames.
	PreSpeechFrames int
}

// DefaultConfig returns thresholds for 30 ms frames at 8 kHz.
func DefaultConfig() Config {
	return Config{
		Aggressiveness:  2,
		StartFrames:     3,  // 90 ms
		EndFrames:       27, // ~810 ms
		PreSpeechFrames: 5,  // 150 ms
	}
}

// Detector classifies fixed-size PCM frames as speech or non-speech and
// emits debounced start/end edges. It is not safe for concurrent use; the
// session's frame reader is its only caller.
type Detector struct {
	threshold    float64
	startFrames  int
	endFrames    int
	ring         *Ring
	active       bool
	speechCount  int
	silenceCount int
}

// NewDetector creates a detector with the given configuration.
func NewDetector(cfg Config) *Detector {
	agg := cfg.Aggressiveness
	if agg < 0 {
		agg = 0
	}
	if agg > 3 {
		agg = 3
	}
	return &Detector{
		threshold:   aggressivenessThresholds[agg],
		startFrames: cfg.StartFrames,
		endFrames:   cfg.EndFrames,
		ring:        NewRing(cfg.PreSpeechFrames),
	}
}

// Push classifies one frame and advances the edge detectors. The returned
// slice holds the PCM frames to forward to the STT stream, oldest first;
// on a speech_start edge it begins with the pre-speech ring contents so
// word onsets are not cropped. While speech is inactive nothing is
// forwarded and the frame lands in the ring.
func (d *Detector) Push(frame []byte) (Edge, [][]byte) {
	speech := meanAmplitude(frame) >= d.threshold

	if speech {
		d.speechCount++
		d.silenceCount = 0
	} else {
		d.silenceCount++
		d.speechCount = 0
	}

	if !d.active {
		if speech && d.speechCount >= d.startFrames {
			d.active = true
			forward := d.ring.Flush()
			forward = append(forward, copyFrame(frame))
			return EdgeSpeechStart, forward
		}
		d.ring.Push(frame)
		return EdgeNone, nil
	}

	if !speech && d.silenceCount >= d.endFrames {
		d.active = false
		d.speechCount = 0
		d.silenceCount = 0
		// The closing silence still goes to the provider so it can
		// finalize the utterance.
		return EdgeSpeechEnd, [][]byte{copyFrame(frame)}
	}

	return EdgeNone, [][]byte{copyFrame(frame)}
}

// Active reports whether speech is currently in progress.
func (d *Detector) Active() bool {
	return d.active
}

// Reset clears all edge-detector and ring state.
func (d *Detector) Reset() {
	d.active = false
	d.speechCount = 0
	d.silenceCount = 0
	d.ring.Flush()
}

// meanAmplitude returns the mean absolute sample value of little-endian
// signed 16-bit PCM.
func meanAmplitude(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(frame); i += 2 {
		v := int16(binary.LittleEndian.Uint16(frame[i : i+2]))
		if v < 0 {
			sum -= float64(v)
		} else {
			sum += float64(v)
		}
	}
	return sum / float64(n)
}

func copyFrame(frame []byte) []byte {
	buf := make([]byte, len(frame))
	copy(buf, frame)
	return buf
}
