package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"listing_f1s/internal/config"
	"listing_f1s/internal/retry"
	"listing_f1s/internal/workbook"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRetry() retry.Config {
	return retry.Config{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func finalWorkbook() workbook.Workbook {
	return workbook.Workbook{
		Stage: workbook.Final,
		Sheets: []workbook.Sheet{
			{Name: "UK", Rows: []workbook.Row{
				{EAN: "111", SKU: "12345-F2", Description: "Oak shelf", Substitute: "99999", Barcode: "'1234567890123", Brand: "Acme"},
				{EAN: "222", SKU: "B-1", Description: "Brass hinge"},
			}},
			{Name: "FR", Rows: []workbook.Row{
				{EAN: "333", SKU: "C-1", Substitute: "88888"},
			}},
		},
	}
}

func TestBuildTaskWorkbook(t *testing.T) {
	tables := BuildTaskWorkbook(finalWorkbook())
	require.Len(t, tables, 1)
	assert.Equal(t, "UK", tables[0].Name)
	assert.Equal(t, TaskColumns, tables[0].Header)
	assert.Equal(t, [][]interface{}{
		{"F1 for 12345-F2 - Oak shelf", "12345-F2", "99999", "111", "1234567890123", "Acme"},
	}, tables[0].Rows)
}

type fakeSink struct {
	created  []NewTask
	sections map[string]string
	attached map[string]string
	failOn   string
	titles   map[string][]string
}

func newFakeSink() *fakeSink {
	return &fakeSink{sections: map[string]string{}, attached: map[string]string{}}
}

func (f *fakeSink) ExistingTitles(ctx context.Context, projectID string) ([]string, error) {
	return f.titles[projectID], nil
}

func (f *fakeSink) CreateTask(ctx context.Context, task NewTask) (string, error) {
	if task.ProjectIDs[0] == f.failOn {
		return "", errors.New("project archived")
	}
	f.created = append(f.created, task)
	return "gid-" + task.ProjectIDs[0], nil
}

func (f *fakeSink) AddToSection(ctx context.Context, sectionID, taskID string) error {
	f.sections[taskID] = sectionID
	return nil
}

func (f *fakeSink) Attach(ctx context.Context, taskID, name, contentType string, data []byte) error {
	f.attached[taskID] = name
	return nil
}

func manomano(t *testing.T) config.Marketplace {
	t.Helper()
	m, err := config.LookupMarketplace("manomano")
	require.NoError(t, err)
	return m
}

func TestPublishContinuesPastFailedTarget(t *testing.T) {
	m := manomano(t)
	sink := newFakeSink()
	sink.failOn = m.Targets[1].ProjectID

	res, err := NewPublisher(sink, m).Publish(context.Background(), finalWorkbook())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Lines)
	assert.Len(t, res.Created, len(m.Targets)-1)
	require.Contains(t, res.Failed, m.Targets[1].Label)
	assert.ErrorContains(t, res.Failed[m.Targets[1].Label], "project archived")

	first := m.Targets[0]
	gid := res.Created[first.Label]
	assert.Equal(t, first.SectionID, sink.sections[gid])
	assert.Equal(t, m.AttachmentName, sink.attached[gid])
	assert.Equal(t, m.TaskName, sink.created[0].Name)
	assert.Equal(t, first.TagIDs, sink.created[0].TagIDs)
}

func TestPublishWithoutBarcodesCreatesNothing(t *testing.T) {
	sink := newFakeSink()
	wb := workbook.Workbook{Stage: workbook.Final, Sheets: []workbook.Sheet{{Name: "UK", Rows: []workbook.Row{{SKU: "A"}}}}}

	res, err := NewPublisher(sink, manomano(t)).Publish(context.Background(), wb)
	require.NoError(t, err)
	assert.Zero(t, res.Lines)
	assert.Empty(t, sink.created)
}

func TestTitlesMergesProjects(t *testing.T) {
	m := manomano(t)
	sink := newFakeSink()
	sink.titles = map[string][]string{
		m.Targets[0].ProjectID: {"F1 for A - x"},
		m.Targets[2].ProjectID: {"F1 for B - y"},
	}
	got, err := (&Titles{Sink: sink, Market: m}).ExistingTitles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"F1 for A - x": true, "F1 for B - y": true}, got)
}

func TestClientCreateMoveAttach(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tasks", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var body struct {
			Data NewTask `json:"data"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"p1"}, body.Data.ProjectIDs)
		assert.Equal(t, "F1s", body.Data.Name)
		_, _ = w.Write([]byte(`{"data":{"gid":"42","name":"F1s"}}`))
	})
	mux.HandleFunc("/sections/s1/addTask", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"data":{"task":"42"}}`, string(b))
		_, _ = w.Write([]byte(`{"data":{}}`))
	})
	mux.HandleFunc("/tasks/42/attachments", func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "out.xlsx", hdr.Filename)
		assert.Equal(t, workbook.ContentType, hdr.Header.Get("Content-Type"))
		assert.Equal(t, "payload", string(data))
		_, _ = w.Write([]byte(`{"data":{"gid":"att"}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL, "secret", testRetry())
	ctx := context.Background()

	gid, err := c.CreateTask(ctx, NewTask{ProjectIDs: []string{"p1"}, Name: "F1s"})
	require.NoError(t, err)
	assert.Equal(t, "42", gid)
	require.NoError(t, c.AddToSection(ctx, "s1", gid))
	require.NoError(t, c.Attach(ctx, gid, "out.xlsx", workbook.ContentType, []byte("payload")))
}

func TestClientExistingTitlesPaginates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects/p1/tasks", r.URL.Path)
		assert.Equal(t, "name", r.URL.Query().Get("opt_fields"))
		if r.URL.Query().Get("offset") == "" {
			_, _ = w.Write([]byte(`{"data":[{"gid":"1","name":"one"}],"next_page":{"offset":"abc"}}`))
			return
		}
		assert.Equal(t, "abc", r.URL.Query().Get("offset"))
		_, _ = w.Write([]byte(`{"data":[{"gid":"2","name":"two"}],"next_page":null}`))
	}))
	defer srv.Close()

	titles, err := NewClient(srv.URL, "t", testRetry()).ExistingTitles(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, titles)
}

func TestClientRetriesServerErrorsOnly(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"errors":[{"message":"forbidden"}]}`))
		}
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "t", testRetry()).CreateTask(context.Background(), NewTask{ProjectIDs: []string{"p"}})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.False(t, apiErr.IsRetryable())
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}
