package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/dunamismax/pixelopt/internal/cleanup"
	"github.com/dunamismax/pixelopt/internal/config"
	"github.com/dunamismax/pixelopt/internal/domain"
	"github.com/dunamismax/pixelopt/internal/pipeline"
	"github.com/dunamismax/pixelopt/internal/preset"
	"github.com/dunamismax/pixelopt/internal/queue"
	"github.com/dunamismax/pixelopt/internal/ratelimit"
	"github.com/dunamismax/pixelopt/internal/service"
	"github.com/dunamismax/pixelopt/internal/storage"
	"github.com/dunamismax/pixelopt/internal/store"
	"github.com/dunamismax/pixelopt/internal/upload"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	payloads []queue.OptimizePayload
	err      error
}

func (q *fakeQueue) EnqueueOptimize(_ context.Context, p queue.OptimizePayload) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.payloads = append(q.payloads, p)
	return &asynq.TaskInfo{ID: p.JobID, Queue: "default"}, nil
}

type testEnv struct {
	server *Server
	http   *httptest.Server
	files  *storage.LocalStore
	svc    *service.Service
	jobs   *store.MemoryJobStore
	queue  *fakeQueue
}

func testConfig() config.Config {
	var cfg config.Config
	cfg.API.RequestTimeout = 10 * time.Second
	cfg.API.DeleteAfterDownload = true
	cfg.Limits.MaxUploadBytes = 1 << 20
	return cfg
}

func newTestEnv(t *testing.T, mutate func(*config.Config, *Deps)) *testEnv {
	t.Helper()
	files, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	env := &testEnv{
		files: files,
		svc:   service.New(files, pipeline.NewProcessor(preset.DefaultTable())),
		jobs:  store.NewMemoryJobStore(time.Hour),
		queue: &fakeQueue{},
	}
	cfg := testConfig()
	deps := Deps{
		Files:   env.svc,
		Presets: preset.DefaultTable(),
		Jobs:    env.jobs,
		Queue:   env.queue,
		Limiter: ratelimit.NewMemoryLimiter(1000),
		Janitor: cleanup.NewJanitor(files, time.Hour, zerolog.Nop()),
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}

	env.server = NewServer(zerolog.Nop(), cfg, deps)
	env.server.now = func() time.Time { return time.UnixMilli(1_700_000_000_123) }
	env.http = httptest.NewServer(env.server.Handler())
	t.Cleanup(env.http.Close)
	return env
}

func pngFixture(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 48, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 48; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 5), G: uint8(y * 9), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func jpegFixture(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 32, 16)), &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func (e *testEnv) upload(t *testing.T, filename string, data []byte, fields map[string]string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(e.http.URL+"/upload", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, err := http.Get(env.http.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]string{"status": "healthy", "service": "image-optimization"},
		decodeBody[map[string]string](t, resp))
}

func TestUploadDownloadDeletesFiles(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.upload(t, "My Photo.png", pngFixture(t), map[string]string{"resize_percent": "50"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[optimizeResponse](t, resp)

	assert.True(t, body.Success)
	assert.Equal(t, "My Photo.png", body.OriginalFilename)
	assert.Equal(t, "My_Photo_1700000000123.png", body.SafeFilename)
	assert.Equal(t, body.SafeFilename, body.SourceFilename)
	assert.Equal(t, domain.FormatPNG, body.Format)
	assert.Equal(t, 48, body.OriginalWidth)
	assert.Equal(t, 24, body.Width)
	assert.True(t, body.Resized)
	assert.Nil(t, body.QualityUsed)
	assert.Equal(t, "/download/My_Photo_1700000000123.png", body.DownloadURL)
	assert.Equal(t, "/preview/optimized/My_Photo_1700000000123.png", body.PreviewURL)

	dl, err := http.Get(env.http.URL + body.DownloadURL)
	require.NoError(t, err)
	data, err := io.ReadAll(dl.Body)
	dl.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, dl.StatusCode)
	assert.Equal(t, "image/png", dl.Header.Get("Content-Type"))
	assert.Contains(t, dl.Header.Get("Content-Disposition"), "optimized_My_Photo_1700000000123.png")
	assert.Equal(t, body.OptimizedSize, int64(len(data)))

	require.Eventually(t, func() bool {
		objects, err := env.files.List(context.Background())
		return err == nil && len(objects) == 0
	}, time.Second, 10*time.Millisecond, "download removes original and optimized files")

	again, err := http.Get(env.http.URL + body.DownloadURL)
	require.NoError(t, err)
	again.Body.Close()
	assert.Equal(t, http.StatusNotFound, again.StatusCode)
}

func TestUploadRejections(t *testing.T) {
	env := newTestEnv(t, nil)

	cases := []struct {
		name     string
		filename string
		data     []byte
		fields   map[string]string
		status   int
		contains string
	}{
		{"gif", "anim.gif", []byte("GIF89a"), nil, http.StatusBadRequest, "GIF files are not supported"},
		{"text as png", "notes.png", []byte("hello, world"), nil, http.StatusBadRequest, "invalid file format"},
		{"bad quality", "ok.png", pngFixture(t), map[string]string{"quality": "high"}, http.StatusBadRequest, "invalid option"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := env.upload(t, tc.filename, tc.data, tc.fields)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Contains(t, decodeBody[map[string]string](t, resp)["error"], tc.contains)
		})
	}

	objects, err := env.files.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestUploadWithoutFile(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, err := http.PostForm(env.http.URL+"/upload", url.Values{"quality": {"80"}})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReoptimize(t *testing.T) {
	env := newTestEnv(t, nil)
	uploaded := decodeBody[optimizeResponse](t, env.upload(t, "cat.png", pngFixture(t), map[string]string{"output_format": "jpeg"}))
	require.Equal(t, "cat_1700000000123.jpeg", uploaded.SafeFilename)
	require.True(t, uploaded.FormatConverted)

	resp, err := http.PostForm(env.http.URL+"/reoptimize", url.Values{
		"safe_filename": {uploaded.SafeFilename},
		"quality":       {"60"},
		"output_format": {"jpeg"},
		"sharpen":       {"500"},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[optimizeResponse](t, resp)
	assert.Equal(t, "cat_1700000000123.png", body.SourceFilename)
	assert.Equal(t, "cat_1700000000123.jpeg", body.SafeFilename)
	require.NotNil(t, body.QualityUsed)
	assert.Equal(t, 60, *body.QualityUsed)
	assert.Equal(t, 100, body.SharpenAmount, "out-of-range sharpen is clamped")

	missing, err := http.PostForm(env.http.URL+"/reoptimize", url.Values{"safe_filename": {"ghost_1.png"}})
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	empty, err := http.PostForm(env.http.URL+"/reoptimize", url.Values{})
	require.NoError(t, err)
	empty.Body.Close()
	assert.Equal(t, http.StatusBadRequest, empty.StatusCode)
}

func TestPreview(t *testing.T) {
	env := newTestEnv(t, nil)
	uploaded := decodeBody[optimizeResponse](t, env.upload(t, "dog.png", pngFixture(t), nil))

	resp, err := http.Get(env.http.URL + "/preview/original/" + uploaded.SourceFilename)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	resp, err = http.Get(env.http.URL + "/preview/thumbnail/" + uploaded.SourceFilename)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(env.http.URL + "/preview/optimized/nothing_here.png")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCleanupAll(t *testing.T) {
	env := newTestEnv(t, nil)
	env.upload(t, "a.png", pngFixture(t), nil)

	resp, err := http.Post(env.http.URL+"/cleanup-all", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[map[string]any](t, resp)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(2), body["count"])
	assert.Equal(t, "Cleaned up 2 files", body["message"])
}

func TestJobLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	uploaded := decodeBody[optimizeResponse](t, env.upload(t, "cat.png", pngFixture(t), nil))

	reqBody := fmt.Sprintf(`{"safe_filename":%q,"webhook_url":"https://example.com/hook","options":{"preset":"speed","resize_percent":50,"sharpen":0,"output_format":"jpeg","strip_metadata":true,"auto_orient":true}}`, uploaded.SafeFilename)
	resp, err := http.Post(env.http.URL+"/v1/jobs", "application/json", strings.NewReader(reqBody))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	created := decodeBody[map[string]any](t, resp)
	jobID, _ := created["job_id"].(string)
	require.NotEmpty(t, jobID)
	assert.Equal(t, domain.JobStatusQueued, created["status"])

	require.Len(t, env.queue.payloads, 1)
	p := env.queue.payloads[0]
	assert.Equal(t, jobID, p.JobID)
	assert.Equal(t, uploaded.SourceFilename, p.SafeFilename)
	assert.Equal(t, "127.0.0.1", p.ClientID)
	assert.Equal(t, domain.PresetSpeed, p.Options.Preset)

	get, err := http.Get(env.http.URL + "/v1/jobs/" + jobID)
	require.NoError(t, err)
	defer get.Body.Close()
	require.Equal(t, http.StatusOK, get.StatusCode)
	job := decodeBody[jobResponse](t, get)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
	assert.Empty(t, job.DownloadURL)

	unknown, err := http.Get(env.http.URL + "/v1/jobs/does-not-exist")
	require.NoError(t, err)
	unknown.Body.Close()
	assert.Equal(t, http.StatusNotFound, unknown.StatusCode)
}

func TestCreateJobRejections(t *testing.T) {
	env := newTestEnv(t, nil)

	post := func(body string) int {
		resp, err := http.Post(env.http.URL+"/v1/jobs", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusBadRequest, post(`{"safe_filename":"../x.png"}`))
	assert.Equal(t, http.StatusBadRequest, post(`{"safe_filename":"x.png","unknown":1}`))
	assert.Equal(t, http.StatusBadRequest, post(`{"safe_filename":"x.png","options":{"preset":"ultra","resize_percent":100,"output_format":"same"}}`))
	assert.Equal(t, http.StatusConflict, post(`{"safe_filename":"never_uploaded_1.png"}`))
	assert.Empty(t, env.queue.payloads)

	noQueue := newTestEnv(t, func(_ *config.Config, d *Deps) { d.Queue = nil })
	resp, err := http.Post(noQueue.http.URL+"/v1/jobs", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRateLimitOnPostRoutes(t *testing.T) {
	env := newTestEnv(t, func(_ *config.Config, d *Deps) { d.Limiter = ratelimit.NewMemoryLimiter(1) })

	first, err := http.PostForm(env.http.URL+"/reoptimize", url.Values{})
	require.NoError(t, err)
	first.Body.Close()
	assert.Equal(t, http.StatusBadRequest, first.StatusCode)

	second, err := http.PostForm(env.http.URL+"/reoptimize", url.Values{})
	require.NoError(t, err)
	second.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	assert.NotEmpty(t, second.Header.Get("Retry-After"))

	health, err := http.Get(env.http.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode, "GET routes are not limited")
}

type slowFiles struct {
	*service.Service
	delay time.Duration
	done  chan struct{}
}

func (s slowFiles) Optimize(ctx context.Context, name string, data []byte, opts domain.ProcessingOptions) (service.Outcome, error) {
	defer close(s.done)
	time.Sleep(s.delay)
	return s.Service.Optimize(ctx, name, data, opts)
}

func TestUploadTimesOut(t *testing.T) {
	done := make(chan struct{})
	env := newTestEnv(t, func(cfg *config.Config, d *Deps) {
		cfg.API.RequestTimeout = 20 * time.Millisecond
		d.Files = slowFiles{Service: d.Files.(*service.Service), delay: 200 * time.Millisecond, done: done}
	})

	resp := env.upload(t, "slow.png", pngFixture(t), nil)
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("background optimization never finished")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	health, err := http.Get(env.http.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()

	resp, err := http.Get(env.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `pixelopt_api_requests_total{method="GET",route="/health",status="200"} 1`)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", domain.ErrInvalidOption), http.StatusBadRequest},
		{fmt.Errorf("x: %w", upload.ErrInvalidUpload), http.StatusBadRequest},
		{fmt.Errorf("decode stage: %w", domain.ErrUnsupportedFormat), http.StatusUnsupportedMediaType},
		{fmt.Errorf("encode stage: %w", domain.ErrEncodeFailure), http.StatusInternalServerError},
		{fmt.Errorf("%w after 1s", errTimeout), http.StatusGatewayTimeout},
		{fmt.Errorf("%w: x", storage.ErrNotFound), http.StatusNotFound},
		{&http.MaxBytesError{Limit: 10}, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestUploadMislabelledJPEGGetsJPEGName(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.upload(t, "photo.png", jpegFixture(t), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[optimizeResponse](t, resp)

	assert.Equal(t, domain.FormatJPEG, body.OutputFormat)
	assert.False(t, body.FormatConverted)
	assert.Equal(t, "photo_1700000000123.jpeg", body.SafeFilename)
	assert.Equal(t, "photo_1700000000123.png", body.SourceFilename)

	dl, err := http.Get(env.http.URL + body.DownloadURL)
	require.NoError(t, err)
	defer dl.Body.Close()
	assert.Equal(t, http.StatusOK, dl.StatusCode)
	assert.Equal(t, "image/jpeg", dl.Header.Get("Content-Type"))
}
