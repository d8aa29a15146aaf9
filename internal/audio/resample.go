package audio

// Resampler performs linear-interpolation sample-rate conversion between two
// fixed rates, carrying its fractional sample position across calls so a
// stream split into arbitrarily-sized frames resamples identically to one
// fed in a single call. Twilio's media stream delivers 20ms frames; a
// resampler that reset its phase every call would introduce an audible
// click at every frame boundary.
//
// Grounded on the continuous-state contract the original twilio_handler.py
// relied on from Python's audioop.ratecv (which returns and re-accepts a
// state tuple across calls), expressed here as a stateful struct.
type Resampler struct {
	inRate  int
	outRate int

	// lastSample is the final input sample of the previous call, used as the
	// left endpoint of the interpolation for the first output sample of the
	// next call. hasLast is false only before the first sample is ever seen.
	lastSample int16
	hasLast    bool

	// pos is the fractional read position into the (virtual) stream of input
	// samples, expressed relative to the sample immediately after lastSample.
	pos float64
}

// NewResampler creates a Resampler converting from inRate Hz to outRate Hz,
// both linear-16 mono.
func NewResampler(inRate, outRate int) *Resampler {
	return &Resampler{inRate: inRate, outRate: outRate}
}

// Reset clears carried state, for reuse across an unrelated session.
func (r *Resampler) Reset() {
	r.lastSample = 0
	r.hasLast = false
	r.pos = 0
}

// Resample converts a little-endian int16 linear PCM byte slice and returns
// the converted byte slice at the target rate, threading interpolation
// state across calls.
func (r *Resampler) Resample(pcm []byte) []byte {
	if r.inRate == r.outRate {
		return pcm
	}

	n := len(pcm) / 2
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}

	step := float64(r.inRate) / float64(r.outRate)
	var out []int16

	at := func(idx int) int16 {
		if idx < 0 {
			if r.hasLast {
				return r.lastSample
			}
			return 0
		}
		if idx >= len(samples) {
			if len(samples) > 0 {
				return samples[len(samples)-1]
			}
			if r.hasLast {
				return r.lastSample
			}
			return 0
		}
		return samples[idx]
	}

	for r.pos < float64(n) {
		idx := int(r.pos)
		frac := r.pos - float64(idx)
		a := at(idx - 1)
		b := at(idx)
		v := float64(a) + (float64(b)-float64(a))*frac
		out = append(out, clampInt16(v))
		r.pos += step
	}
	r.pos -= float64(n)

	if n > 0 {
		r.lastSample = samples[n-1]
		r.hasLast = true
	}

	buf := make([]byte, len(out)*2)
	for i, s := range out {
		buf[i*2] = byte(s)
		buf[i*2+1] = byte(s >> 8)
	}
	return buf
}

func clampInt16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
