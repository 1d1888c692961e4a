package tts

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	texttospeech "google.golang.org/api/texttospeech/v1"
)

// cloudVoices maps the short language codes used by the app to Cloud TTS locales.
var cloudVoices = map[string]string{
	"es": "es-ES",
	"en": "en-US",
	"fr": "fr-FR",
	"pt": "pt-BR",
	"it": "it-IT",
	"de": "de-DE",
}

// Cloud uses the Google Cloud Text-to-Speech REST API with MP3 output.
type Cloud struct {
	svc *texttospeech.Service
}

func NewCloud(ctx context.Context, apiKey string, opts ...option.ClientOption) (*Cloud, error) {
	if apiKey == "" {
		return nil, errors.New("cloud tts: api key is required")
	}
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := texttospeech.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Cloud{svc: svc}, nil
}

func (c *Cloud) Name() string { return "cloud" }

func (c *Cloud) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	locale, ok := cloudVoices[language]
	if !ok {
		locale = language
	}

	resp, err := c.svc.Text.Synthesize(&texttospeech.SynthesizeSpeechRequest{
		Input: &texttospeech.SynthesisInput{Text: text},
		Voice: &texttospeech.VoiceSelectionParams{LanguageCode: locale},
		AudioConfig: &texttospeech.AudioConfig{
			AudioEncoding: "MP3",
		},
	}).Context(ctx).Do()
	if err != nil {
		se := &SynthesisError{Provider: c.Name(), Language: language, Temporary: true, Err: err}
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			se.Status = gerr.Code
			se.Temporary = temporaryStatus(gerr.Code)
		}
		return nil, se
	}

	audio, err := base64.StdEncoding.DecodeString(resp.AudioContent)
	if err != nil {
		return nil, &SynthesisError{Provider: c.Name(), Language: language, Err: fmt.Errorf("decode audio: %w", err)}
	}
	if len(audio) == 0 {
		return nil, &SynthesisError{Provider: c.Name(), Language: language, Err: ErrEmptyAudio}
	}
	return audio, nil
}
