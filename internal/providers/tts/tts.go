package tts

import (
	"context"
	"errors"
	"fmt"
)

// Provider turns one bounded chunk of text into compressed audio (MP3). Implementations
// make a single blocking call and report every failure as a *SynthesisError; they never
// return empty audio with a nil error.
type Provider interface {
	Synthesize(ctx context.Context, text, language string) ([]byte, error)
	Name() string
}

// SynthesisError describes a failed provider call.
type SynthesisError struct {
	Provider  string
	Language  string
	Status    int  // upstream HTTP status, 0 when no response was received
	Temporary bool // worth another attempt
	Err       error
}

func (e *SynthesisError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("tts %s (%s): status %d: %v", e.Provider, e.Language, e.Status, e.Err)
	}
	return fmt.Sprintf("tts %s (%s): %v", e.Provider, e.Language, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// IsTemporary reports whether err is a SynthesisError that may succeed on retry.
func IsTemporary(err error) bool {
	var se *SynthesisError
	return errors.As(err, &se) && se.Temporary
}

func temporaryStatus(status int) bool {
	return status == 429 || status >= 500
}

// ErrEmptyAudio is wrapped when a provider answers successfully without audio.
var ErrEmptyAudio = errors.New("provider returned no audio")
