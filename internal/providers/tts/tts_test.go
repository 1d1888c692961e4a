package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestTranslateSynthesize(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"tl":     r.URL.Query().Get("tl"),
			"q":      r.URL.Query().Get("q"),
			"client": r.URL.Query().Get("client"),
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3-audio"))
	}))
	defer srv.Close()

	p := NewTranslate(srv.URL, srv.Client())
	audio, err := p.Synthesize(context.Background(), "hola qué tal", "es")
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3-audio"), audio)
	assert.Equal(t, "es", gotQuery["tl"])
	assert.Equal(t, "hola qué tal", gotQuery["q"])
	assert.Equal(t, "tw-ob", gotQuery["client"])
}

func TestTranslateErrors(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		temporary bool
	}{
		{"bad request", http.StatusBadRequest, "nope", false},
		{"throttled", http.StatusTooManyRequests, "slow down", true},
		{"upstream down", http.StatusBadGateway, "", true},
		{"empty audio", http.StatusOK, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			_, err := NewTranslate(srv.URL, srv.Client()).Synthesize(context.Background(), "hola", "es")
			require.Error(t, err)

			var se *SynthesisError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, "translate", se.Provider)
			assert.Equal(t, tc.status, se.Status)
			assert.Equal(t, tc.temporary, IsTemporary(err))
		})
	}
}

func TestTranslateRejectsOversizedAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = io.WriteString(w, strings.Repeat("a", 17))
	}))
	defer srv.Close()

	p := NewTranslate(srv.URL, srv.Client())
	p.maxBytes = 16
	audio, err := p.Synthesize(context.Background(), "hola", "es")
	assert.Nil(t, audio, "truncated audio is never returned")

	var se *SynthesisError
	require.ErrorAs(t, err, &se)
	assert.False(t, se.Temporary)
	assert.Contains(t, se.Error(), "exceeds 16 bytes")

	p.maxBytes = 17
	audio, err = p.Synthesize(context.Background(), "hola", "es")
	require.NoError(t, err)
	assert.Len(t, audio, 17)
}

func TestTranslateTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewTranslate(srv.URL, srv.Client()).Synthesize(ctx, "hola", "es")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestTranslateRejectsEmptyText(t *testing.T) {
	_, err := NewTranslate("http://127.0.0.1:0", nil).Synthesize(context.Background(), "  ", "es")
	var se *SynthesisError
	require.ErrorAs(t, err, &se)
	assert.False(t, se.Temporary)
}

func TestCloudSynthesize(t *testing.T) {
	var body struct {
		Input struct {
			Text string `json:"text"`
		} `json:"input"`
		Voice struct {
			LanguageCode string `json:"languageCode"`
		} `json:"voice"`
		AudioConfig struct {
			AudioEncoding string `json:"audioEncoding"`
		} `json:"audioConfig"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "text:synthesize") {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"audioContent": base64.StdEncoding.EncodeToString([]byte("mp3-bytes")),
		})
	}))
	defer srv.Close()

	p, err := NewCloud(context.Background(), "test-key",
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)

	audio, err := p.Synthesize(context.Background(), "hello", "en")
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3-bytes"), audio)
	assert.Equal(t, "hello", body.Input.Text)
	assert.Equal(t, "en-US", body.Voice.LanguageCode)
	assert.Equal(t, "MP3", body.AudioConfig.AudioEncoding)
}

func TestCloudRequiresKey(t *testing.T) {
	_, err := NewCloud(context.Background(), "")
	assert.Error(t, err)
}

func TestStatic(t *testing.T) {
	audio, err := NewStatic([]byte("abc")).Synthesize(context.Background(), "hola", "es")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), audio)

	silent, err := NewStatic(nil).Synthesize(context.Background(), "hola", "es")
	require.NoError(t, err)
	assert.Len(t, silent, 4*len(mpegSilentFrame))
	assert.Equal(t, byte(0xFF), silent[0])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewStatic(nil).Synthesize(ctx, "hola", "es")
	assert.ErrorIs(t, err, context.Canceled)
}
