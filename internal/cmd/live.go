package main

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/cdlhelp/telemetry/internal/transport"
)

// liveFeed streams every delivered payload to connected debug clients.
type liveFeed struct {
	mu       sync.Mutex
	upgrader websocket.Upgrader
	clients  map[*websocket.Conn]struct{}
}

func newLiveFeed() *liveFeed {
	return &liveFeed{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]struct{}),
	}
}

func (f *liveFeed) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zlog.Warn().Err(err).Msg("live feed upgrade failed")
		return
	}
	f.mu.Lock()
	f.clients[conn] = struct{}{}
	f.mu.Unlock()

	// Drain control frames; the feed is write-only.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				f.drop(conn)
				return
			}
		}
	}()
}

// broadcast sends one delivered payload to every connected client. Slow or
// closed clients are dropped rather than blocking delivery.
func (f *liveFeed) broadcast(p transport.Payload) {
	f.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(f.clients))
	for conn := range f.clients {
		conns = append(conns, conn)
	}
	f.mu.Unlock()

	for _, conn := range conns {
		if err := conn.WriteJSON(p); err != nil {
			f.drop(conn)
		}
	}
}

func (f *liveFeed) drop(conn *websocket.Conn) {
	f.mu.Lock()
	delete(f.clients, conn)
	f.mu.Unlock()
	_ = conn.Close()
}
