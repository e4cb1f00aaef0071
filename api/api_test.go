package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/sqjobs/api"
	memconn "github.com/xraph/sqjobs/connector/memory"
	"github.com/xraph/sqjobs/dlq"
	"github.com/xraph/sqjobs/engine"
	"github.com/xraph/sqjobs/id"
	"github.com/xraph/sqjobs/job"
	memstore "github.com/xraph/sqjobs/store/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	conn    *memconn.Connector
	store   *memstore.Store
	eng     *engine.Engine
	handler http.Handler
}

func newFixture(t *testing.T, withDLQ bool) *fixture {
	t.Helper()
	conn := memconn.New(memconn.WithQueues("emails"))
	t.Cleanup(func() { _ = conn.Close() })

	f := &fixture{conn: conn}
	opts := []engine.Option{engine.WithQueue("emails")}
	if withDLQ {
		f.store = memstore.New()
		opts = append(opts, engine.WithDLQStore(f.store))
	}
	eng, err := engine.New(conn, opts...)
	require.NoError(t, err)
	require.NoError(t, eng.Register("send-email", func(context.Context, *job.Job) error { return nil }))

	f.eng = eng
	f.handler = api.New(eng).Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

// seedDLQ dead-letters one job directly through the service.
func (f *fixture) seedDLQ(t *testing.T, name string) *dlq.Entry {
	t.Helper()
	j := job.New(name, []any{"x"}, map[string]any{"to": "bob@example.com"})
	j.QueueName = "emails"
	j.Retries = 4
	require.NoError(t, f.eng.DLQService().Push(context.Background(), j, 3, errors.New("smtp down")))

	entries, err := f.store.ListDLQ(context.Background(), dlq.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	return entries[0]
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, true)
	rec := f.do(t, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestEnqueue(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       any
		wantStatus int
		wantLen    int
	}{
		{
			name:       "accepted",
			path:       "/queues/emails/jobs",
			body:       api.EnqueueRequest{Name: "send-email", Kwargs: map[string]any{"to": "alice@example.com"}},
			wantStatus: http.StatusAccepted,
			wantLen:    1,
		},
		{
			name:       "producer id kept",
			path:       "/queues/emails/jobs",
			body:       api.EnqueueRequest{ID: "order-42", Name: "send-email"},
			wantStatus: http.StatusAccepted,
			wantLen:    1,
		},
		{
			name:       "missing name",
			path:       "/queues/emails/jobs",
			body:       map[string]any{"args": []any{1}},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed json",
			path:       "/queues/emails/jobs",
			body:       "{not json",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown queue",
			path:       "/queues/nope/jobs",
			body:       api.EnqueueRequest{Name: "send-email"},
			wantStatus: http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, false)
			rec := f.do(t, http.MethodPost, tt.path, tt.body)

			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantLen, f.conn.Len("emails"))

			if tt.wantStatus == http.StatusAccepted {
				var resp api.EnqueueResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, "emails", resp.Queue)
				assert.NotEmpty(t, resp.ID)
				if req, ok := tt.body.(api.EnqueueRequest); ok && req.ID != "" {
					assert.Equal(t, req.ID, resp.ID)
				}
			}
		})
	}
}

func TestListDLQ(t *testing.T) {
	f := newFixture(t, true)
	first := f.seedDLQ(t, "send-email")
	time.Sleep(2 * time.Millisecond)
	second := f.seedDLQ(t, "send-email")

	rec := f.do(t, http.MethodGet, "/dlq?queue=emails&limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []*dlq.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, second.ID, entries[0].ID, "newest first")
	assert.Equal(t, first.ID, entries[1].ID)
	assert.Equal(t, "smtp down", entries[0].Error)

	rec = f.do(t, http.MethodGet, "/dlq?limit=1&offset=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, first.ID, entries[0].ID)

	rec = f.do(t, http.MethodGet, "/dlq?queue=other", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/dlq?limit=-3", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetDLQ(t *testing.T) {
	f := newFixture(t, true)
	entry := f.seedDLQ(t, "send-email")

	rec := f.do(t, http.MethodGet, "/dlq/"+entry.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got dlq.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, entry.JobID, got.JobID)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/dlq/"+id.NewDLQID(), nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/dlq/not-an-id", nil).Code)
}

func TestReplayDLQ(t *testing.T) {
	f := newFixture(t, true)
	entry := f.seedDLQ(t, "send-email")

	rec := f.do(t, http.MethodPost, "/dlq/"+entry.ID+"/replay", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var replayed job.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &replayed))
	assert.Equal(t, "send-email", replayed.Name)
	assert.NotEqual(t, entry.JobID, replayed.ID)
	assert.Equal(t, 1, f.conn.Len("emails"))

	stored, err := f.store.GetDLQ(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.ReplayedAt)

	rec = f.do(t, http.MethodPost, "/dlq/"+id.NewDLQID()+"/replay", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPurgeDLQ(t *testing.T) {
	f := newFixture(t, true)
	f.seedDLQ(t, "send-email")

	// Default cutoff is 30 days ago, so a fresh entry survives.
	rec := f.do(t, http.MethodDelete, "/dlq", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"purged":0}`, rec.Body.String())

	before := time.Now().Add(time.Minute).UTC().Format(time.RFC3339)
	rec = f.do(t, http.MethodDelete, "/dlq?before="+before, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"purged":1}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodDelete, "/dlq?before=yesterday", nil).Code)
}

func TestDLQDisabled(t *testing.T) {
	f := newFixture(t, false)
	for _, path := range []string{"/dlq", "/dlq/" + id.NewDLQID()} {
		assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, path, nil).Code, path)
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t, true)
	f.seedDLQ(t, "send-email")

	rec := f.do(t, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "emails", resp.Queue)
	assert.Equal(t, []string{"send-email"}, resp.Jobs)
	assert.True(t, resp.DLQEnabled)
	assert.Equal(t, int64(1), resp.DLQCount)
	assert.Zero(t, resp.Workers)
}
