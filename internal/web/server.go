// Package web provides the HTTP status server: an HTML page, JSON status,
// a live websocket stream, a speed chart and the trip list.
package web

import (
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sweeney/speed-fusion/internal/status"
	"github.com/sweeney/speed-fusion/internal/tripstore"
)

// TripLister lists stored trips, newest first.
type TripLister interface {
	List() ([]tripstore.Trip, error)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeWait = 5 * time.Second

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	trips      TripLister
	hub        *Hub
}

// New creates a Server that reads state from the given tracker. trips may
// be nil.
func New(addr string, tracker *status.Tracker, trips TripLister) *Server {
	s := &Server{tracker: tracker, trips: trips, hub: NewHub()}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/chart", s.handleChart)
	mux.HandleFunc("/trips.json", s.handleTrips)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown disconnects websocket clients and gracefully shuts down the
// server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

// Broadcast pushes the tracker's current status to websocket clients.
func (s *Server) Broadcast() {
	s.hub.Broadcast(status.FormatCompactJSON(s.tracker.Snapshot()))
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleTrips(w http.ResponseWriter, r *http.Request) {
	var trips []tripstore.Trip
	if s.trips != nil {
		var err error
		trips, err = s.trips.List()
		if err != nil {
			log.Printf("web: list trips: %v", err)
			http.Error(w, "trip history unavailable", http.StatusInternalServerError)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(formatTrips(trips))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}

	c := s.hub.register()
	s.hub.sendTo(c, status.FormatCompactJSON(s.tracker.Snapshot()))
	go writePump(conn, c)

	// Inbound messages are ignored; reading detects the client going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.hub.unregister(c)
}

func writePump(conn *websocket.Conn, c *wsClient) {
	defer conn.Close()
	for msg := range c.send {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
}
