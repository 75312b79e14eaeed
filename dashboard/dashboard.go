/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package dashboard pushes one read-only status frame every two seconds
// to any number of connected browsers over a websocket, so an operator can
// watch replay progress without going through the console REPL. Grounded
// on scm/network.go's "websocket" endpoint: an Upgrader with CheckOrigin
// relaxed for local operator use, one goroutine per connection driving the
// write side behind a mutex, and the read side only watched for the close
// frame since this endpoint never accepts client commands.
package dashboard

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Status is one broadcast frame. Every field comes from read-only
// accessors the replay loop already exposes for the console (§4.12,
// §4.6, §4.11) — the dashboard adds no new state of its own.
type Status struct {
	Sequence      uint32    `json:"sequence"`
	WatermarkSCN  uint64    `json:"watermark_scn"`
	OpenTxns      int       `json:"open_transactions"`
	HeapDepth     int       `json:"heap_depth"`
	OutputBackled int       `json:"output_backlog"`
	LastTick      time.Time `json:"last_tick"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server tracks connected viewers and broadcasts whatever Push is given.
type Server struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

func NewServer() *Server {
	return &Server{clients: make(map[*client]struct{})}
}

// Handler upgrades incoming requests to websockets and registers them as
// broadcast recipients until the connection closes.
func (s *Server) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.clients, c)
			s.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// ListenAndServe starts the HTTP endpoint the replay loop's console hands
// an operator (§6 options name the listen address).
func (s *Server) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.Handler)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return server.ListenAndServe()
}

// Push broadcasts one status frame to every connected viewer, dropping
// any that error (main.go's pushDashboardStatus calls this every two
// seconds and must never block on a stuck client).
func (s *Server) Push(st Status) {
	msg, err := json.Marshal(st)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		if err := c.send(msg); err != nil {
			delete(s.clients, c)
		}
	}
}

// ClientCount reports how many viewers are currently connected, for the
// console's status line.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
