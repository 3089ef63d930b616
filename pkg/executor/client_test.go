package executor

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const script = `# Configuración
from selenium.webdriver.common.by import By
url = "https://www.celevro.com"
driver.get(url)
time.sleep(1)
print("Título:", driver.title)`

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(srv.URL+"/execute",
		WithHTTPClient(srv.Client()),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func TestDispatch_Success(t *testing.T) {
	var got executeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/execute", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"status":"success","data":{"message":"Test OK","screenshot":"/shots/1.png","duration":3.2}}`))
	}))
	defer srv.Close()

	res := newTestClient(srv).Dispatch(context.Background(), "```python\n"+script+"\n```", "case_1_Login", true)

	assert.True(t, res.Success)
	assert.True(t, res.Dispatched)
	assert.Equal(t, FailureNone, res.Kind)
	assert.Equal(t, "Test OK", res.Output)
	require.NotNil(t, res.ScreenshotPath)
	assert.Equal(t, "/shots/1.png", *res.ScreenshotPath)
	assert.Contains(t, res.Logs, `"duration":3.2`)

	assert.Equal(t, executeRequest{Script: script, TestName: "case_1_Login", Browser: "chrome", Headless: true}, got)
}

func TestDispatch_RemoteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"error","data":{}}`))
	}))
	defer srv.Close()

	res := newTestClient(srv).Dispatch(context.Background(), script, "t", false)

	assert.False(t, res.Success)
	assert.True(t, res.Dispatched)
	assert.Equal(t, FailureRemote, res.Kind)
	assert.Equal(t, "Ejecución completada", res.Output)
	assert.Nil(t, res.ScreenshotPath)
}

func TestDispatch_EmptyCodeMakesNoCall(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	for _, code := range []string{"", "Lo siento, no pude generar nada útil para esta página."} {
		res := newTestClient(srv).Dispatch(context.Background(), code, "t", false)
		assert.False(t, res.Success)
		assert.False(t, res.Dispatched)
		assert.Nil(t, res.ScreenshotPath)
		assert.Equal(t, FailureNoCode, res.Kind)
	}
	assert.Zero(t, hits.Load())
}

func TestDispatch_ServiceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c := newTestClient(srv)
	srv.Close()

	res := c.Dispatch(context.Background(), script, "t", false)

	assert.False(t, res.Success)
	assert.Equal(t, FailureUnavailable, res.Kind)
	assert.Equal(t, "Agente Executor no disponible", res.Output)
}

func TestDispatch_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(srv.URL,
		WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	res := c.Dispatch(context.Background(), script, "t", false)

	assert.False(t, res.Success)
	assert.Equal(t, FailureTimeout, res.Kind)
}

func TestDispatch_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	res := newTestClient(srv).Dispatch(context.Background(), script, "t", false)

	assert.False(t, res.Success)
	assert.Equal(t, FailureTransport, res.Kind)
	assert.Contains(t, res.Logs, "boom")
}
