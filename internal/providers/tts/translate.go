package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	DefaultTranslateURL = "https://translate.google.com/translate_tts"

	translateUserAgent = "Mozilla/5.0 (X11; Linux x86_64) lector-tts"
	maxAudioBytes      = 10 << 20
)

// Translate speaks text through the public Google Translate TTS endpoint, which answers
// audio/mpeg for short inputs. Segments must stay under its ~200 character limit.
type Translate struct {
	baseURL  string
	client   *http.Client
	maxBytes int64
}

func NewTranslate(baseURL string, client *http.Client) *Translate {
	if baseURL == "" {
		baseURL = DefaultTranslateURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Translate{baseURL: baseURL, client: client, maxBytes: maxAudioBytes}
}

func (p *Translate) Name() string { return "translate" }

func (p *Translate) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	fail := func(status int, err error) error {
		return &SynthesisError{
			Provider:  p.Name(),
			Language:  language,
			Status:    status,
			Temporary: status == 0 || temporaryStatus(status),
			Err:       err,
		}
	}

	if strings.TrimSpace(text) == "" {
		return nil, &SynthesisError{Provider: p.Name(), Language: language, Err: errors.New("empty text")}
	}

	q := url.Values{}
	q.Set("ie", "UTF-8")
	q.Set("client", "tw-ob")
	q.Set("tl", language)
	q.Set("q", text)
	q.Set("total", "1")
	q.Set("idx", "0")
	q.Set("textlen", strconv.Itoa(utf8.RuneCountInString(text)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, &SynthesisError{Provider: p.Name(), Language: language, Err: err}
	}
	req.Header.Set("User-Agent", translateUserAgent)
	req.Header.Set("Referer", "https://translate.google.com/")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fail(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fail(resp.StatusCode, fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(body))))
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBytes+1))
	if err != nil {
		return nil, fail(0, fmt.Errorf("read audio: %w", err))
	}
	if int64(len(audio)) > p.maxBytes {
		return nil, &SynthesisError{
			Provider: p.Name(),
			Language: language,
			Status:   resp.StatusCode,
			Err:      fmt.Errorf("audio exceeds %d bytes", p.maxBytes),
		}
	}
	if len(audio) == 0 {
		return nil, fail(resp.StatusCode, ErrEmptyAudio)
	}
	return audio, nil
}
