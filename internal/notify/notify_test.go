package notify

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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/0x6d61/xssprobe/internal/engine"
)

func sampleReport() engine.VulnReport {
	return engine.VulnReport{
		Type:        "reflected",
		URL:         "http://shop.test/search?q=x",
		Parameter:   "q",
		Payload:     "<script>alert(1)</script>",
		PayloadType: "none",
		Description: "reflected evidence",
		Timestamp:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestWebhookSink_PostsMessage(t *testing.T) {
	t.Parallel()

	type received struct {
		contentType string
		body        []byte
	}
	ch := make(chan received, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ch <- received{r.Header.Get("Content-Type"), body}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := NewWebhookSink(srv.URL, time.Second, nil).Notify(context.Background(), sampleReport())
	require.NoError(t, err)

	req := <-ch
	var got postMessage
	require.NoError(t, json.Unmarshal(req.body, &got))
	assert.Equal(t, "application/json", req.contentType)
	assert.Equal(t, "post", got.MsgType)
	post, ok := got.Content.Post["en_us"]
	require.True(t, ok)
	require.Len(t, post.Content, 4)
	assert.Equal(t, "reflected", post.Content[0][1].Text)
	assert.Equal(t, "http://shop.test/search?q=x", post.Content[1][1].Text)
	assert.Contains(t, post.Content[2][1].Text, `"payloadType": "none"`)
	assert.Equal(t, "2026-03-01T12:00:00Z", post.Content[3][1].Text)
}

func TestWebhookSink_StatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookSink(srv.URL, 0, nil).Notify(context.Background(), sampleReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestMulti_LogsFailuresAndContinues(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	var delivered atomic.Int32
	failing := engine.SinkFunc(func(context.Context, engine.VulnReport) error { return errors.New("down") })
	counting := engine.SinkFunc(func(context.Context, engine.VulnReport) error {
		delivered.Add(1)
		return nil
	})

	m := NewMulti(zap.New(core), failing, nil, counting)
	assert.Equal(t, 2, m.Len())
	assert.NoError(t, m.Notify(context.Background(), sampleReport()))

	assert.Equal(t, int32(1), delivered.Load())
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "vulnerability sink failed", logs.All()[0].Message)
}

func TestReportFor(t *testing.T) {
	t.Parallel()

	v := engine.Verdict{
		Point:     engine.InjectionPoint{Name: "q", Target: engine.ScanTarget{URL: "http://t/?q=1"}},
		VulnClass: "reflected",
		Evidence: []engine.Evidence{
			{Kind: engine.EvidenceEventHandler, Contribution: 0.6, Payload: "a", Transform: "html"},
			{Kind: engine.EvidenceReflected, Contribution: 0.8, Payload: "b", Transform: "none", Match: "<script>"},
		},
	}
	now := time.Unix(0, 0)
	r := engine.ReportFor(v, now)
	assert.Equal(t, "b", r.Payload)
	assert.Equal(t, "none", r.PayloadType)
	assert.Equal(t, "q", r.Parameter)
	assert.Equal(t, "reflected evidence: <script>", r.Description)
	assert.Equal(t, now, r.Timestamp)
}
