package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dunamismax/pixelopt/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(attempts int) Config {
	return Config{
		SigningSecret:  "test-secret",
		Timeout:        2 * time.Second,
		MaxAttempts:    attempts,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
	}
}

func TestSendSignsBody(t *testing.T) {
	var (
		gotSig, gotTS, gotEvt string
		gotBody               []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(HeaderSignature)
		gotTS = r.Header.Get(HeaderTimestamp)
		gotEvt = r.Header.Get(HeaderEvent)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(testConfig(1))
	client.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	res := domain.OptimizationResult{SourceFormat: domain.FormatPNG, TargetFormat: domain.FormatWebP}
	event, payload := PayloadFor(domain.Job{
		ID:         "job-1",
		Status:     domain.JobStatusSucceeded,
		OutputName: "cat.webp",
		Result:     &res,
	})
	require.NoError(t, client.Send(context.Background(), srv.URL, event, payload))

	assert.Equal(t, EventJobSucceeded, gotEvt)
	assert.Equal(t, "1700000000", gotTS)
	assert.Equal(t, Sign("test-secret", gotTS, gotBody), gotSig)

	var decoded Payload
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, "job-1", decoded.JobID)
	assert.Equal(t, "cat.webp", decoded.OutputName)
}

func TestSendRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewClient(testConfig(3)).Send(context.Background(), srv.URL, EventJobFailed, map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSendStopsOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	err := NewClient(testConfig(5)).Send(context.Background(), srv.URL, EventJobFailed, map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=410")
	assert.Equal(t, int32(1), calls.Load())
}

func TestSendWithoutEndpointIsNoop(t *testing.T) {
	assert.NoError(t, NewClient(testConfig(1)).Send(context.Background(), "  ", EventJobSucceeded, nil))
}

func TestPayloadForFailedJob(t *testing.T) {
	event, p := PayloadFor(domain.Job{ID: "job-2", Status: domain.JobStatusFailed, Error: "boom"})
	assert.Equal(t, EventJobFailed, event)
	assert.Equal(t, "boom", p.Error)
	assert.Nil(t, p.Result)
}
