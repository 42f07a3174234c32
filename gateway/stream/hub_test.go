package stream

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"rwastaking/core/events"
	"rwastaking/crypto"
)

func funded(amount uint64) events.StakePoolFunded {
	return events.StakePoolFunded{
		Funder:  crypto.ModuleAddress("test/admin"),
		Amount:  uint256.NewInt(amount),
		Balance: uint256.NewInt(amount),
	}
}

func TestHubBacklogAndCursor(t *testing.T) {
	hub := NewHub(2, nil)
	for i := uint64(1); i <= 3; i++ {
		hub.Emit(funded(i))
	}
	_, cancel, backlog := hub.Subscribe(0)
	defer cancel()
	require.Len(t, backlog, 2)
	require.Equal(t, uint64(2), backlog[0].Seq)

	_, cancel2, backlog := hub.Subscribe(2)
	defer cancel2()
	require.Len(t, backlog, 1)
	require.Equal(t, uint64(3), backlog[0].Seq)
	require.Equal(t, 2, hub.Subscribers())
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := NewHub(0, nil)
	updates, cancel, _ := hub.Subscribe(0)
	defer cancel()
	for i := 0; i < subscriberBuffer+1; i++ {
		hub.Emit(funded(1))
	}
	require.Zero(t, hub.Subscribers())
	count := 0
	for range updates {
		count++
	}
	require.Equal(t, subscriberBuffer, count)
}

func TestHubStreamsOverWebsocket(t *testing.T) {
	hub := NewHub(16, nil)
	hub.Emit(funded(5))
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?types=" + events.TypeStakePoolFunded
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	require.Equal(t, uint64(1), msg.Seq)
	require.Equal(t, events.TypeStakePoolFunded, msg.Event.Type)
	require.Equal(t, "5", msg.Event.Attributes["amount"])
}
