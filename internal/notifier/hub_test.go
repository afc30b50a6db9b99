package notifier

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/amaumene/yggsync/internal/metrics"
	"github.com/amaumene/yggsync/internal/models"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestHub_PublishFansOut(t *testing.T) {
	hub := NewHub(nil, quietLogger())
	id1, ch1 := hub.Subscribe()
	id2, ch2 := hub.Subscribe()
	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 2, hub.Observers())

	hub.Publish(models.Event{Type: models.EventPassStarted, Category: models.CategorySeries})

	for _, ch := range []<-chan models.Event{ch1, ch2} {
		select {
		case e := <-ch:
			assert.Equal(t, models.EventPassStarted, e.Type)
			assert.False(t, e.Timestamp.IsZero())
		default:
			t.Fatal("event not delivered")
		}
	}
}

func TestHub_SlowObserverDoesNotBlock(t *testing.T) {
	reg := prometheus.NewRegistry()
	hub := NewHub(metrics.New(reg), quietLogger())
	_, slow := hub.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < ObserverQueueSize+5; i++ {
			hub.Publish(models.Event{Type: models.EventPassProgress, Percent: float64(i)})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full observer")
	}

	assert.Len(t, slow, ObserverQueueSize)
	first := <-slow
	assert.Zero(t, first.Percent, "the oldest events are kept, the newest dropped")

	expected := `
# HELP yggsync_notifier_dropped_events_total Total number of events dropped for slow observers
# TYPE yggsync_notifier_dropped_events_total counter
yggsync_notifier_dropped_events_total 5
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "yggsync_notifier_dropped_events_total"))
}

func TestHub_UnsubscribeAndClose(t *testing.T) {
	hub := NewHub(nil, quietLogger())
	id, ch := hub.Subscribe()
	_, other := hub.Subscribe()

	hub.Unsubscribe(id)
	hub.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok, "channel closed on unsubscribe")
	assert.Equal(t, 1, hub.Observers())

	hub.Close()
	_, ok = <-other
	assert.False(t, ok)
	assert.Zero(t, hub.Observers())

	_, late := hub.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscriptions after Close are already closed")

	assert.NotPanics(t, func() { hub.Publish(models.Event{Type: models.EventPassStarted}) })
}

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return conn
}

func TestHub_WebSocketStreamsEvents(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := NewHub(nil, quietLogger())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv)
	require.Eventually(t, func() bool { return hub.Observers() == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish(models.Event{
		Type:     models.EventPassCompleted,
		Category: models.CategoryFilms,
		Kind:     models.PassIncremental,
		Message:  "films incremental pass completed",
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got models.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, models.EventPassCompleted, got.Type)
	assert.Equal(t, models.CategoryFilms, got.Category)
	assert.Equal(t, "films incremental pass completed", got.Message)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Observers() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_CloseDisconnectsWebSocketClients(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := NewHub(nil, quietLogger())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Observers() == 1 }, time.Second, 5*time.Millisecond)

	hub.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}
