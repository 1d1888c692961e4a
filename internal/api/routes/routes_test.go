package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebastianpando/lector-tts-app/internal/api/handlers"
	"github.com/sebastianpando/lector-tts-app/internal/api/middleware"
	"github.com/sebastianpando/lector-tts-app/internal/cache"
	"github.com/sebastianpando/lector-tts-app/internal/logger"
	"github.com/sebastianpando/lector-tts-app/internal/metrics"
	"github.com/sebastianpando/lector-tts-app/internal/models"
	"github.com/sebastianpando/lector-tts-app/internal/providers/tts"
	"github.com/sebastianpando/lector-tts-app/internal/ratelimit"
	"github.com/sebastianpando/lector-tts-app/internal/repositories/memory"
	"github.com/sebastianpando/lector-tts-app/internal/services"
	"github.com/sebastianpando/lector-tts-app/web"
)

func init() { gin.SetMode(gin.TestMode) }

const fiftyWords = "El lector convierte este texto en audio de forma progresiva. Cada fragmento se " +
	"sintetiza por separado y se envía al navegador mientras llega. Al terminar, la grabación " +
	"completa queda guardada en el archivo para escucharla de nuevo más tarde sin volver a " +
	"generarla desde cero, lo cual ahorra mucho tiempo."

// failingProvider wraps the static provider and fails permanently from call failFrom on.
type failingProvider struct {
	inner    tts.Provider
	failFrom int32
	calls    atomic.Int32
}

func (p *failingProvider) Name() string { return "test" }

func (p *failingProvider) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	n := p.calls.Add(1)
	if p.failFrom > 0 && n >= p.failFrom {
		return nil, &tts.SynthesisError{Provider: "test", Language: language, Status: 400, Err: errors.New("rejected")}
	}
	return p.inner.Synthesize(ctx, text, language)
}

type appOptions struct {
	prebuffer int
	failFrom  int32
}

type testApp struct {
	engine     *gin.Engine
	srv        *httptest.Server
	archiveDir string
	tempDir    string
	provider   *failingProvider
	csrf       string
}

func newTestApp(t *testing.T, opts appOptions) *testApp {
	t.Helper()
	root := t.TempDir()
	log := logger.Discard()
	m := metrics.New()

	jobs := memory.NewJobRepo(5 * time.Minute)
	progress := cache.NewMemoryCache()
	provider := &failingProvider{inner: tts.NewStatic(nil), failFrom: opts.failFrom}

	archive, err := services.NewArchiveService(services.ArchiveConfig{Dir: filepath.Join(root, "archive"), Max: 3}, log, m)
	require.NoError(t, err)
	sessions := services.NewSessionService(jobs, progress, services.SessionConfig{
		MaxChars:        5000,
		MaxWords:        1000,
		FirstSegmentMax: 100,
		SegmentMax:      200,
		Languages:       []string{"es", "en", "fr"},
		DefaultLanguage: "es",
		JobTTL:          5 * time.Minute,
	})
	streams, err := services.NewStreamService(provider, archive, progress, m, log, services.StreamConfig{
		PrebufferBytes: opts.prebuffer,
		Attempts:       1,
		TempDir:        filepath.Join(root, "tmp"),
	})
	require.NoError(t, err)

	r := gin.New()
	tmpl, err := web.Templates()
	require.NoError(t, err)
	r.SetHTMLTemplate(tmpl)
	Use(r, log)
	RegisterRoutes(r, Deps{
		TTS:          handlers.NewTTSHandler(sessions, streams, log),
		Archive:      handlers.NewArchiveHandler(archive),
		Page:         handlers.NewPageHandler(sessions, archive, 5000, log),
		WS:           handlers.NewWSHandler(sessions, 10*time.Millisecond),
		Health:       handlers.NewHealthHandler(nil),
		Metrics:      m,
		Limiter:      ratelimit.NewMemory(10, time.Minute),
		Log:          log,
		CookieSecure: false,
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	app := &testApp{
		engine:     r,
		srv:        srv,
		archiveDir: filepath.Join(root, "archive"),
		tempDir:    filepath.Join(root, "tmp"),
		provider:   provider,
	}
	app.csrf = app.fetchCSRF(t)
	return app
}

func (a *testApp) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func (a *testApp) fetchCSRF(t *testing.T) string {
	t.Helper()
	w := a.do(httptest.NewRequest(http.MethodGet, "/api/csrf", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	for _, c := range w.Result().Cookies() {
		if c.Name == middleware.CSRFCookie {
			assert.Equal(t, body.Token, c.Value)
		}
	}
	require.NotEmpty(t, body.Token)
	return body.Token
}

func (a *testApp) post(path string, body any, withCSRF bool) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if withCSRF {
		req.AddCookie(&http.Cookie{Name: middleware.CSRFCookie, Value: a.csrf})
		req.Header.Set(middleware.CSRFHeader, a.csrf)
	}
	return a.do(req)
}

func (a *testApp) prepare(t *testing.T, text, lang string) handlers.PrepareResponse {
	t.Helper()
	w := a.post("/api/prepare", handlers.PrepareRequest{Text: text, Lang: lang}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res handlers.PrepareResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return res
}

func (a *testApp) archive(t *testing.T) []models.ArchiveEntry {
	t.Helper()
	w := a.do(httptest.NewRequest(http.MethodGet, "/api/archive", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var res handlers.ArchiveListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return res.Files
}

func TestPrepareStreamAndArchive(t *testing.T) {
	app := newTestApp(t, appOptions{prebuffer: 64 << 10})
	require.Len(t, strings.Fields(fiftyWords), 50)

	job := app.prepare(t, fiftyWords, "es")
	assert.NotEmpty(t, job.Token)
	assert.Equal(t, "es", job.Language)
	assert.Greater(t, job.SegmentCount, 1)

	res, err := http.Get(app.srv.URL + "/stream/" + job.Token)
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.NoError(t, res.Body.Close())

	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "audio/mpeg", res.Header.Get("Content-Type"))
	assert.Equal(t, int64(-1), res.ContentLength, "length is unknown up front")
	assert.Contains(t, res.Header.Get("Cache-Control"), "no-store")
	assert.Equal(t, "no", res.Header.Get("X-Accel-Buffering"))
	assert.Equal(t, "nosniff", res.Header.Get("X-Content-Type-Options"))
	require.NotEmpty(t, body)
	assert.Equal(t, byte(0xFF), body[0])

	files := app.archive(t)
	require.Len(t, files, 1)
	assert.Contains(t, files[0].Name, "_el-lector-convierte-este-texto-en-audio")
	assert.Equal(t, int64(len(body)), files[0].Size)
	assert.Equal(t, files[0].Name, res.Trailer.Get(handlers.ArchiveFileTrailer))

	stored, err := os.ReadFile(filepath.Join(app.archiveDir, files[0].Name))
	require.NoError(t, err)
	assert.Equal(t, body, stored)

	parts, err := os.ReadDir(app.tempDir)
	require.NoError(t, err)
	assert.Empty(t, parts)

	// progress outlives the consumed job
	w := app.do(httptest.NewRequest(http.MethodGet, "/api/progress?token="+job.Token, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var p models.Progress
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.True(t, p.Done)
	assert.Equal(t, job.SegmentCount, p.Sent)
	assert.Equal(t, files[0].Name, p.File)
}

func TestStreamTokenIsSingleUse(t *testing.T) {
	app := newTestApp(t, appOptions{})
	job := app.prepare(t, "Hola mundo.", "es")

	w := app.do(httptest.NewRequest(http.MethodGet, "/stream?token="+job.Token, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Body.Bytes())

	w = app.do(httptest.NewRequest(http.MethodGet, "/stream/"+job.Token, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"NOT_FOUND"`)

	w = app.do(httptest.NewRequest(http.MethodGet, "/stream/unknown-token", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPrepareValidation(t *testing.T) {
	app := newTestApp(t, appOptions{})

	w := app.post("/api/prepare", handlers.PrepareRequest{Text: "   ", Lang: "es"}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"INVALID_ARGUMENT"`)

	w = app.post("/api/prepare", handlers.PrepareRequest{Text: strings.Repeat("palabra ", 1001), Lang: "es"}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/prepare", strings.NewReader("{not json"))
	req.AddCookie(&http.Cookie{Name: middleware.CSRFCookie, Value: app.csrf})
	req.Header.Set(middleware.CSRFHeader, app.csrf)
	assert.Equal(t, http.StatusBadRequest, app.do(req).Code)

	w = app.post("/api/prepare", handlers.PrepareRequest{Text: "hola", Lang: "es"}, false)
	assert.Equal(t, http.StatusForbidden, w.Code, "submission needs the CSRF token")

	assert.Empty(t, app.archive(t))
}

func TestPrepareRateLimited(t *testing.T) {
	app := newTestApp(t, appOptions{})

	for i := 0; i < 10; i++ {
		w := app.post("/api/prepare", handlers.PrepareRequest{Text: "hola", Lang: "es"}, true)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}
	w := app.post("/api/prepare", handlers.PrepareRequest{Text: "hola", Lang: "es"}, true)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestDeleteRequiresCSRF(t *testing.T) {
	app := newTestApp(t, appOptions{})
	job := app.prepare(t, "Para borrar.", "es")
	require.Equal(t, http.StatusOK, app.do(httptest.NewRequest(http.MethodGet, "/stream/"+job.Token, nil)).Code)

	files := app.archive(t)
	require.Len(t, files, 1)
	name := files[0].Name

	w := app.post("/api/delete", gin.H{"file": name}, false)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.FileExists(t, filepath.Join(app.archiveDir, name))

	w = app.post("/api/delete", gin.H{"file": name}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NoFileExists(t, filepath.Join(app.archiveDir, name))

	w = app.post("/api/delete", gin.H{"file": name}, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTraversalIsRejected(t *testing.T) {
	app := newTestApp(t, appOptions{})
	secret := filepath.Join(filepath.Dir(app.archiveDir), "secret.mp3")
	require.NoError(t, os.WriteFile(secret, []byte("keep"), 0o644))

	w := app.post("/api/delete", gin.H{"file": "../secret.mp3"}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.FileExists(t, secret)

	w = app.do(httptest.NewRequest(http.MethodGet, "/audio/..secret.mp3", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = app.do(httptest.NewRequest(http.MethodGet, "/audio/..%2Fsecret.mp3", nil))
	assert.NotEqual(t, http.StatusOK, w.Code)
	assert.NotEqual(t, "keep", w.Body.String())
}

func TestAudioSupportsRanges(t *testing.T) {
	app := newTestApp(t, appOptions{})
	job := app.prepare(t, "Escucha esto.", "es")
	require.Equal(t, http.StatusOK, app.do(httptest.NewRequest(http.MethodGet, "/stream/"+job.Token, nil)).Code)
	name := app.archive(t)[0].Name

	w := app.do(httptest.NewRequest(http.MethodGet, "/audio/"+name, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "audio/mpeg", w.Header().Get("Content-Type"))
	full := w.Body.Bytes()

	req := httptest.NewRequest(http.MethodGet, "/audio/"+name, nil)
	req.Header.Set("Range", "bytes=0-99")
	w = app.do(req)
	assert.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, full[:100], w.Body.Bytes())

	w = app.do(httptest.NewRequest(http.MethodGet, "/audio/20200101-000000-000_none.mp3", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestArchiveKeepsThreeNewest(t *testing.T) {
	app := newTestApp(t, appOptions{})
	for i := 0; i < 5; i++ {
		job := app.prepare(t, "Texto número "+string(rune('a'+i))+".", "es")
		require.Equal(t, http.StatusOK, app.do(httptest.NewRequest(http.MethodGet, "/stream/"+job.Token, nil)).Code)
	}
	files := app.archive(t)
	require.Len(t, files, 3)
	assert.Contains(t, files[0].Name, "texto-numero-e")

	onDisk, err := os.ReadDir(app.archiveDir)
	require.NoError(t, err)
	assert.Len(t, onDisk, 3)
}

func TestStreamFailureBeforeFirstByte(t *testing.T) {
	app := newTestApp(t, appOptions{prebuffer: 1 << 20, failFrom: 2})
	job := app.prepare(t, fiftyWords, "es")
	require.Greater(t, job.SegmentCount, 1)

	w := app.do(httptest.NewRequest(http.MethodGet, "/stream/"+job.Token, nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"BAD_GATEWAY"`)
	assert.NotEqual(t, "audio/mpeg", w.Header().Get("Content-Type"))

	assert.Empty(t, app.archive(t))
	parts, err := os.ReadDir(app.tempDir)
	require.NoError(t, err)
	assert.Empty(t, parts)
}

func TestStreamFailureMidway(t *testing.T) {
	app := newTestApp(t, appOptions{failFrom: 2})
	job := app.prepare(t, fiftyWords, "es")
	require.Greater(t, job.SegmentCount, 1)

	res, err := http.Get(app.srv.URL + "/stream/" + job.Token)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode, "headers were already sent")

	body, err := io.ReadAll(res.Body)
	assert.Error(t, err, "the stream is cut short")
	assert.NotEmpty(t, body, "the first segment reached the client")

	assert.Empty(t, app.archive(t))
	parts, err := os.ReadDir(app.tempDir)
	require.NoError(t, err)
	assert.Empty(t, parts)

	w := app.do(httptest.NewRequest(http.MethodGet, "/api/progress?token="+job.Token, nil))
	var p models.Progress
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.True(t, p.Failed)
	assert.Equal(t, 1, p.Sent)
}

func TestProgressSocket(t *testing.T) {
	app := newTestApp(t, appOptions{})
	job := app.prepare(t, fiftyWords, "es")

	wsURL := "ws" + strings.TrimPrefix(app.srv.URL, "http") + "/ws/progress/" + job.Token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first models.Progress
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, 0, first.Sent)
	assert.Equal(t, job.SegmentCount, first.Total)

	res, err := http.Get(app.srv.URL + "/stream/" + job.Token)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()

	var last models.Progress
	for !last.Finished() {
		require.NoError(t, conn.ReadJSON(&last))
	}
	assert.True(t, last.Done)
	assert.Equal(t, job.SegmentCount, last.Sent)
	assert.NotEmpty(t, last.File)

	_, _, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(app.srv.URL, "http")+"/ws/progress/nope", nil)
	assert.ErrorIs(t, err, websocket.ErrBadHandshake)
}

func TestIndexPage(t *testing.T) {
	app := newTestApp(t, appOptions{})

	w := app.do(httptest.NewRequest(http.MethodGet, "/?text=Hola+desde+la+URL&lang=en", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "Hola desde la URL")
	assert.Contains(t, body, `<option value="en" selected>`)
	assert.Contains(t, body, "Sin grabaciones")
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "frame-ancestors 'none'")

	var csrf *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == middleware.CSRFCookie {
			csrf = c
		}
	}
	require.NotNil(t, csrf)
	assert.Contains(t, body, csrf.Value, "the token is also in the page")

	w = app.do(httptest.NewRequest(http.MethodGet, "/static/app.js", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	app := newTestApp(t, appOptions{})
	job := app.prepare(t, "Métricas.", "es")
	require.Equal(t, http.StatusOK, app.do(httptest.NewRequest(http.MethodGet, "/stream/"+job.Token, nil)).Code)

	w := app.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = app.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `lector_streams_total{status="completed"} 1`)
	assert.Contains(t, w.Body.String(), "lector_archive_entries 1")
}
