package control_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crunchdao/model-runner-orchestrator/internal/control"
)

type fakeServer struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conn    *websocket.Conn
	readErr error
	reads   []control.OutboundEvent
}

func newFakeServer(t *testing.T) (*httptest.Server, *fakeServer) {
	t.Helper()
	fs := &fakeServer{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := fs.upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		fs.mu.Lock()
		fs.conn = conn
		fs.mu.Unlock()

		go func() {
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var ev control.OutboundEvent
				if json.Unmarshal(data, &ev) == nil {
					fs.mu.Lock()
					fs.reads = append(fs.reads, ev)
					fs.mu.Unlock()
				}
			}
		}()
	}))
	t.Cleanup(srv.Close)
	return srv, fs
}

func (fs *fakeServer) sendEvent(t *testing.T, ev control.InboundEvent) {
	t.Helper()
	fs.mu.Lock()
	conn := fs.conn
	fs.mu.Unlock()
	require.NotNil(t, conn)

	data, err := json.Marshal(ev)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func wsURL(t *testing.T, httpURL string) (host string, port int) {
	t.Helper()
	u := strings.TrimPrefix(strings.TrimPrefix(httpURL, "http://"), "https://")
	parts := strings.Split(u, ":")
	require.Len(t, parts, 2)
	p, err := strconv.Atoi(parts[1])
	require.NoError(t, err)
	return parts[0], p
}

func TestClientInitUnblocksOnFirstInitEvent(t *testing.T) {
	srv, fs := newFakeServer(t)
	host, port := wsURL(t, srv.URL)

	var received []control.Record
	handler := func(event string, records []control.Record) {
		if event == control.EventInit {
			received = records
		}
	}

	c := control.NewClient(host, port, "test-crunch", handler)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	defer c.Close()

	go c.Listen(ctx)

	fs.sendEvent(t, control.InboundEvent{
		Event: control.EventInit,
		Data:  []control.Record{{ModelID: "m1", State: control.StateRunning}},
	})

	require.NoError(t, c.Init(ctx))
	assert.Equal(t, []control.Record{{ModelID: "m1", State: control.StateRunning}}, received)
}

func TestClientSendDeliversOutboundEvent(t *testing.T) {
	srv, fs := newFakeServer(t)
	host, port := wsURL(t, srv.URL)

	c := control.NewClient(host, port, "test-crunch", func(string, []control.Record) {})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	defer c.Close()

	report := control.FailureReport{ReportID: "r1", ModelID: "m1", FailureCode: control.FailureConnectionFailed}
	require.NoError(t, c.Send(control.OutboundEvent{Event: control.EventReportFailure, Data: []control.FailureReport{report}}))

	require.Eventually(t, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		return len(fs.reads) == 1
	}, 2*time.Second, 10*time.Millisecond)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	assert.Equal(t, control.EventReportFailure, fs.reads[0].Event)
	assert.Equal(t, "r1", fs.reads[0].Data[0].ReportID)
}
