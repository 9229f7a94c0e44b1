package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/UniQw/taskstream"
	mrd "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type nop struct{}

func (nop) Debugf(string, ...any) {}
func (nop) Infof(string, ...any)  {}
func (nop) Warnf(string, ...any)  {}
func (nop) Errorf(string, ...any) {}

func newRouter(t *testing.T) (*gin.Engine, *taskstream.Broker, *mrd.Miniredis) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s := mrd.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	b := taskstream.NewBroker(rdb, taskstream.WithLogger(nop{}))

	r := gin.New()
	Register(r, New(b, rdb, map[string]int64{"orders": 2}))
	return r, b, s
}

func do(r http.Handler, method, path string, body []byte) (*httptest.ResponseRecorder, map[string]any) {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestPublishThenStatus(t *testing.T) {
	r, b, _ := newRouter(t)

	w, out := do(r, http.MethodPost, "/api/v1/streams/orders/tasks", []byte(`{"task_name":"generate-summary","payload":{"doc_id":"doc-001"}}`))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	id, _ := out["id"].(string)
	require.NotEmpty(t, id)

	rec, err := b.Status(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, taskstream.StatusPending, rec.Status)

	w, out = do(r, http.MethodGet, "/api/v1/tasks/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	task := out["task"].(map[string]any)
	require.Equal(t, "PENDING", task["status"])
}

func TestPublish_Errors(t *testing.T) {
	r, _, _ := newRouter(t)

	w, _ := do(r, http.MethodPost, "/api/v1/streams/unknown/tasks", []byte(`{"task_name":"x"}`))
	require.Equal(t, http.StatusNotFound, w.Code)

	w, _ = do(r, http.MethodPost, "/api/v1/streams/orders/tasks", []byte(`{"payload":{}}`))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPublish_MaxLenApplied(t *testing.T) {
	r, b, _ := newRouter(t)
	for i := 0; i < 4; i++ {
		w, _ := do(r, http.MethodPost, "/api/v1/streams/orders/tasks", []byte(`{"task_name":"x"}`))
		require.Equal(t, http.StatusAccepted, w.Code)
	}
	n, err := b.Client().XLen(context.Background(), "orders").Result()
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestGetTaskStatus_Errors(t *testing.T) {
	r, _, _ := newRouter(t)

	w, _ := do(r, http.MethodGet, "/api/v1/tasks/not-a-uuid", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(r, http.MethodGet, "/api/v1/tasks/a590d6fb-cacd-4ce2-bf74-969b323e3406", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndReady(t *testing.T) {
	r, _, s := newRouter(t)

	w, out := do(r, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", out["status"])

	w, out = do(r, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, out["ready"])

	s.Close()
	w, _ = do(r, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
}
