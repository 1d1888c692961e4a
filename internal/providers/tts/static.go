package tts

import (
	"context"
	"unicode/utf8"
)

// mpegSilentFrame is one MPEG-1 Layer III frame (128 kbit/s, 44.1 kHz, no padding) whose
// payload is all zeros, which decoders play as ~26ms of silence.
var mpegSilentFrame = func() []byte {
	f := make([]byte, 417)
	f[0], f[1], f[2], f[3] = 0xFF, 0xFB, 0x90, 0x64
	return f
}()

// Static answers without any network call. With nil audio it returns silent MP3 frames
// proportional to the text length, which is enough to exercise the pipeline in development.
type Static struct {
	audio []byte
}

func NewStatic(audio []byte) *Static {
	return &Static{audio: audio}
}

func (s *Static) Name() string { return "static" }

func (s *Static) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &SynthesisError{Provider: s.Name(), Language: language, Err: err}
	}
	if s.audio != nil {
		out := make([]byte, len(s.audio))
		copy(out, s.audio)
		return out, nil
	}
	return SilentMP3(utf8.RuneCountInString(text)), nil
}

// SilentMP3 returns at least one silent frame, roughly one per character.
func SilentMP3(frames int) []byte {
	if frames < 1 {
		frames = 1
	}
	out := make([]byte, 0, frames*len(mpegSilentFrame))
	for i := 0; i < frames; i++ {
		out = append(out, mpegSilentFrame...)
	}
	return out
}
