package audio_test

import (
	"testing"

	"github.com/corevox/corevox/internal/audio"
)

func TestMulawRoundTrip(t *testing.T) {
	// Per-sample error must stay within the G.711 quantisation bound: 8 LSB
	// of the 14-bit linear range used internally by the codec.
	const maxErr = 8 << 2 // scaled to 16-bit magnitude

	samples := []int16{0, 1, -1, 100, -100, 1000, -1000, 8000, -8000, 32767, -32768, 30000, -30000}
	for _, s := range samples {
		u := audio.LinearToMulaw(s)
		back := audio.MulawToLinear(u)
		diff := int(s) - int(back)
		if diff < 0 {
			diff = -diff
		}
		if diff > maxErr {
			t.Errorf("LinearToMulaw(%d) -> MulawToLinear = %d, diff %d exceeds bound %d", s, back, diff, maxErr)
		}
	}
}

func TestMulawZeroIsSilence(t *testing.T) {
	u := audio.LinearToMulaw(0)
	back := audio.MulawToLinear(u)
	if back != 0 {
		t.Errorf("expected zero to round-trip near zero, got %d", back)
	}
}

func TestEncodeDecodeMulawSliceLengths(t *testing.T) {
	pcm := make([]byte, 320) // 160 samples, 20ms @ 8kHz
	for i := range pcm {
		pcm[i] = byte(i)
	}
	ulaw := audio.EncodeMulaw(pcm)
	if len(ulaw) != 160 {
		t.Fatalf("expected 160 encoded bytes, got %d", len(ulaw))
	}
	decoded := audio.DecodeMulaw(ulaw)
	if len(decoded) != 320 {
		t.Fatalf("expected 320 decoded bytes, got %d", len(decoded))
	}
}

func TestResamplerContinuityAcrossFrames(t *testing.T) {
	// A rising ramp split into small frames should resample to (nearly) the
	// same result whether fed in one call or many, proving the resampler
	// carries its interpolation phase across frame boundaries rather than
	// resetting it and producing a click at each boundary.
	full := make([]int16, 400)
	for i := range full {
		full[i] = int16(i * 10)
	}
	toBytes := func(samples []int16) []byte {
		b := make([]byte, len(samples)*2)
		for i, s := range samples {
			b[i*2] = byte(s)
			b[i*2+1] = byte(s >> 8)
		}
		return b
	}

	whole := audio.NewResampler(8000, 16000).Resample(toBytes(full))

	chunked := audio.NewResampler(8000, 16000)
	var streamed []byte
	const frame = 40 // samples per simulated 20ms frame
	for i := 0; i < len(full); i += frame {
		end := i + frame
		if end > len(full) {
			end = len(full)
		}
		streamed = append(streamed, chunked.Resample(toBytes(full[i:end]))...)
	}

	if len(whole) == 0 || len(streamed) == 0 {
		t.Fatal("expected non-empty resampled output")
	}
	// Lengths should match within a sample or two of rounding slop.
	diff := len(whole) - len(streamed)
	if diff < 0 {
		diff = -diff
	}
	if diff > 4 {
		t.Errorf("chunked resample length %d diverges from whole-call length %d", len(streamed), len(whole))
	}
}

func TestResamplerReset(t *testing.T) {
	r := audio.NewResampler(8000, 16000)
	pcm := make([]byte, 40)
	_ = r.Resample(pcm)
	r.Reset()
	// After Reset, a fresh all-zero input should decode as silence with no
	// leftover state bleeding in from the previous session.
	out := r.Resample(make([]byte, 40))
	for i := 0; i < len(out); i += 2 {
		s := int16(out[i]) | int16(out[i+1])<<8
		if s != 0 {
			t.Fatalf("expected silence after Reset, got sample %d at offset %d", s, i)
		}
	}
}
