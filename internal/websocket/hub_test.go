package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cx-tal-miterani/parking-session-system/internal/feed"
	"github.com/cx-tal-miterani/parking-session-system/internal/models"
	"github.com/cx-tal-miterani/parking-session-system/internal/occupancy"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	floor = models.FloorScope{StructureID: "garage-1", FloorID: "L1"}
	spotA = models.SpotRef{StructureID: "garage-1", FloorID: "L1", SpotID: "A-01"}
	spotB = models.SpotRef{StructureID: "garage-1", FloorID: "L1", SpotID: "A-02"}
)

func startServer(t *testing.T) (*Hub, occupancy.Store, string) {
	t.Helper()

	broker := feed.NewBroker(16)
	store := occupancy.WithFeed(occupancy.NewMemoryStore(
		models.Spot{SpotRef: spotA, Organization: "acme"},
		models.Spot{SpotRef: spotB, Organization: "acme"},
	), broker)

	hub := NewHub(broker, store)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	r := mux.NewRouter()
	r.HandleFunc("/api/structures/{structureId}/floors/{floorId}/feed", hub.HandleFeed)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return hub, store, "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/structures/garage-1/floors/L1/feed"
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_SnapshotThenDiffs(t *testing.T) {
	hub, store, url := startServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readMessage(t, conn)
	second := readMessage(t, conn)
	assert.Equal(t, MessageTypeSnapshot, first.Type)
	assert.Equal(t, "A-01", first.SpotID)
	assert.Equal(t, MessageTypeSnapshot, second.Type)
	assert.Equal(t, "A-02", second.SpotID)
	assert.False(t, first.Occupied)

	assert.Eventually(t, func() bool { return hub.GetClientCount(floor) == 1 }, time.Second, 10*time.Millisecond)

	version, err := store.Claim(context.Background(), spotB, "sess-1", 0)
	require.NoError(t, err)

	diff := readMessage(t, conn)
	assert.Equal(t, MessageTypeDiff, diff.Type)
	assert.Equal(t, "A-02", diff.SpotID)
	assert.True(t, diff.Occupied)
	assert.Equal(t, version, diff.Version)
}

func TestHub_UnregistersOnDisconnect(t *testing.T) {
	hub, _, url := startServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	readMessage(t, conn)
	assert.Eventually(t, func() bool { return hub.GetClientCount(floor) == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.GetClientCount(floor) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestMessageOf(t *testing.T) {
	ev := feed.Event{OccupancyDiff: models.OccupancyDiff{Spot: spotA, Occupied: true, Version: 4}, Snapshot: true}
	msg := messageOf(ev)
	assert.Equal(t, MessageTypeSnapshot, msg.Type)
	assert.Equal(t, "garage-1", msg.StructureID)
	assert.Equal(t, int64(4), msg.Version)
}
