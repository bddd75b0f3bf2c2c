package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestQuoteStreamReceivesTicks(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ticks := []string{
			`{"symbol":"ES","price":6120.5,"iv":0.14,"iv_rank":0.31,"ts":1767805200000}`,
			`{"symbol":"CL","price":74.2,"iv":0.33,"iv_rank":0.52,"ts":1767805201000}`,
			`{"symbol":"","price":1}`,       // no symbol, dropped
			`{"symbol":"MGC","price":-1}`,   // bad price, dropped
			`{"symbol":"ES","price":6121.0,"iv":0.14,"iv_rank":0.31,"ts":1767805202000}`,
		}
		for _, tick := range ticks {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tick)); err != nil {
				return
			}
		}
		// Hold the connection so the client doesn't enter reconnect.
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	stream := NewQuoteStream(url)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go stream.Run(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		quotes := stream.Quotes()
		if len(quotes) == 2 && quotes["ES"].Price.String() == "6121" {
			if quotes["CL"].Symbol != "CL" {
				t.Errorf("CL quote mangled: %+v", quotes["CL"])
			}
			if !quotes["ES"].AsOf.Equal(time.UnixMilli(1767805202000).UTC()) {
				t.Errorf("ES AsOf = %v", quotes["ES"].AsOf)
			}
			if stream.Connections() != 1 {
				t.Errorf("connections = %d, want 1", stream.Connections())
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("ticks never arrived, have %+v", stream.Quotes())
}
