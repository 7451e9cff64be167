package queue_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pos/internal/queue"
)

type fakeInspector struct {
	archived map[string]*asynq.TaskInfo
	ran      []string
}

func newInspector() *fakeInspector {
	return &fakeInspector{archived: map[string]*asynq.TaskInfo{
		"t1": {ID: "t1", Queue: "default", Type: queue.KindSaleReport, Payload: []byte(`{"saleId":"s1"}`), Retried: 9, LastErr: "redis timeout", LastFailedAt: time.Now()},
		"t2": {ID: "t2", Queue: "default", Type: queue.KindSaleReport, Payload: []byte("not json")},
	}}
}

func (f *fakeInspector) GetQueueInfo(q string) (*asynq.QueueInfo, error) {
	return &asynq.QueueInfo{Queue: q, Pending: 3, Archived: len(f.archived), Latency: 2 * time.Second}, nil
}

func (f *fakeInspector) ListArchivedTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	out := make([]*asynq.TaskInfo, 0, len(f.archived))
	for _, id := range []string{"t1", "t2"} {
		if t, ok := f.archived[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeInspector) RunTask(_ string, id string) error {
	if _, ok := f.archived[id]; !ok {
		return errors.New("task not found")
	}
	delete(f.archived, id)
	f.ran = append(f.ran, id)
	return nil
}

func (f *fakeInspector) RunAllArchivedTasks(string) (int, error) {
	n := len(f.archived)
	f.archived = map[string]*asynq.TaskInfo{}
	return n, nil
}

func TestListDLQ(t *testing.T) {
	handler := queue.AdminHandler{Inspector: newInspector(), PageSize: 10}
	rr := httptest.NewRecorder()
	handler.ListDLQ(rr, httptest.NewRequest(http.MethodGet, "/admin/queue/dlq?limit=5", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Data []struct {
			ID        string          `json:"id"`
			Attempts  int             `json:"attempts"`
			LastError *string         `json:"lastError"`
			Payload   json.RawMessage `json:"payload"`
		} `json:"data"`
		Total int    `json:"total"`
		Queue string `json:"queue"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Total)
	require.Equal(t, "default", resp.Queue)
	require.Len(t, resp.Data, 2)
	require.Equal(t, 10, resp.Data[0].Attempts)
	require.Equal(t, "redis timeout", *resp.Data[0].LastError)
	require.JSONEq(t, `{"saleId":"s1"}`, string(resp.Data[0].Payload))
	require.JSONEq(t, `"not json"`, string(resp.Data[1].Payload))
}

func TestDLQReplay(t *testing.T) {
	inspector := newInspector()
	handler := queue.AdminHandler{Inspector: inspector}

	body := bytes.NewBufferString(`{"ids":["t1","t1","missing"]}`)
	rr := httptest.NewRecorder()
	handler.ReplayDLQ(rr, httptest.NewRequest(http.MethodPost, "/admin/queue/dlq/replay", body))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Replayed []string          `json:"replayed"`
		Failed   map[string]string `json:"failed"`
		Count    int               `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, []string{"t1"}, resp.Replayed)
	require.Contains(t, resp.Failed, "missing")
	require.Equal(t, []string{"t1"}, inspector.ran)

	rr = httptest.NewRecorder()
	handler.ReplayDLQ(rr, httptest.NewRequest(http.MethodPost, "/admin/queue/dlq/replay", bytes.NewBufferString(`{"all":true}`)))
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)

	rr = httptest.NewRecorder()
	handler.ReplayDLQ(rr, httptest.NewRequest(http.MethodPost, "/admin/queue/dlq/replay", bytes.NewBufferString(`{}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestQueueStats(t *testing.T) {
	handler := queue.AdminHandler{Inspector: newInspector()}
	rr := httptest.NewRecorder()
	handler.Stats(rr, httptest.NewRequest(http.MethodGet, "/admin/queue/stats?queue=reports", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "reports", resp["queue"])
	require.EqualValues(t, 3, resp["pending"])
	require.EqualValues(t, 2000, resp["oldest_lag_ms"])

	empty := queue.AdminHandler{}
	rr = httptest.NewRecorder()
	empty.Stats(rr, httptest.NewRequest(http.MethodGet, "/admin/queue/stats", nil))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
}
