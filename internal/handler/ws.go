package handler

import (
	"encoding/json"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"schoolfleet/tracker/internal/geocode"
	"schoolfleet/tracker/internal/observability"
	"schoolfleet/tracker/internal/stream"
	"schoolfleet/tracker/internal/track"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development, configure for production
			return true
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	// Heartbeat interval
	pingInterval = 30 * time.Second
	// Write timeout
	writeTimeout = 10 * time.Second
)

// WSMessage represents a WebSocket message from a dashboard client
type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Client represents a dashboard WebSocket connection
type Client struct {
	ID       string
	Conn     *websocket.Conn
	Send     chan []byte
	Hub      *WSHub
	DeviceID int // focused device (0 means fleet view)
}

// WSHub fans batched marker snapshots out to dashboard clients and
// relays focus changes back to the live stream client and the geocode
// queue. It implements track.Sink.
type WSHub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	streamClient *stream.Client
	geocoder     *geocode.Queue
	markerLookup func(deviceID int) (track.Marker, bool)
	mu           sync.RWMutex
	stop         chan struct{}
}

// NewWSHub creates a new hub. The stream client and geocoder receive
// focus transitions originating from dashboard clients.
func NewWSHub(streamClient *stream.Client, geocoder *geocode.Queue) *WSHub {
	return &WSHub{
		clients:      make(map[*Client]bool),
		broadcast:    make(chan []byte, 256),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		streamClient: streamClient,
		geocoder:     geocoder,
		stop:         make(chan struct{}),
	}
}

// PublishMarkers implements track.Sink: one frame's worth of marker
// updates, broadcast to every connected client. Returns false when the
// broadcast buffer is saturated so the tracker redelivers the frame's
// devices later.
func (h *WSHub) PublishMarkers(markers []track.Marker) bool {
	type labeled struct {
		track.Marker
		Address        string `json:"address,omitempty"`
		AddressLoading bool   `json:"address_loading,omitempty"`
	}
	out := make([]labeled, len(markers))
	for i, m := range markers {
		addr, loading := h.geocoder.Address(m.DeviceID)
		out[i] = labeled{Marker: m, Address: addr, AddressLoading: loading}
	}

	data, err := json.Marshal(map[string]interface{}{
		"type": "markers",
		"data": out,
	})
	if err != nil {
		log.Printf("[WS] Failed to marshal marker broadcast: %v", err)
		return true // unrecoverable, redelivery would fail the same way
	}

	select {
	case h.broadcast <- data:
		return true
	default:
		// Broadcast buffer full; the tracker keeps these devices dirty
		// and retries on the next frame.
		return false
	}
}

// Run starts the hub's event loop
func (h *WSHub) Run() {
	for {
		select {
		case <-h.stop:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			observability.WSClients.Set(float64(n))
			log.Printf("[WS] Client connected: %s, total clients: %d", client.ID, n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			observability.WSClients.Set(float64(n))
			h.restoreFleetViewIfIdle()
			log.Printf("[WS] Client disconnected: %s, total clients: %d", client.ID, n)

		case message := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			for _, client := range clients {
				select {
				case client.Send <- message:
				default:
					// Client send buffer is full, drop the connection
					h.mu.Lock()
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.Send)
					}
					h.mu.Unlock()
				}
			}
		}
	}
}

// Stop stops the hub and closes all client connections
func (h *WSHub) Stop() {
	close(h.stop)
	h.mu.Lock()
	for client := range h.clients {
		close(client.Send)
		client.Conn.Close()
		delete(h.clients, client)
	}
	h.mu.Unlock()
	observability.WSClients.Set(0)
}

// GetClientCount returns the number of connected clients
func (h *WSHub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// restoreFleetViewIfIdle switches the upstream subscription back to
// the whole fleet once no client is focused on a single device.
func (h *WSHub) restoreFleetViewIfIdle() {
	h.mu.RLock()
	focused := false
	for client := range h.clients {
		if client.DeviceID != 0 {
			focused = true
			break
		}
	}
	h.mu.RUnlock()

	if !focused && h.streamClient != nil {
		h.streamClient.SwitchToAll()
		h.geocoder.ClearFocused()
	}
}

// handleFocus narrows the live feed to one device on behalf of a
// client (marker click / tracking drawer open).
func (h *WSHub) handleFocus(c *Client, deviceID int) {
	h.mu.Lock()
	c.DeviceID = deviceID
	h.mu.Unlock()
	if h.streamClient != nil {
		h.streamClient.SwitchToSingle(deviceID)
	}
	// The focused device always gets a fresh address, ahead of the
	// background queue.
	h.geocoder.SetFocused(deviceID)
	if marker, ok := h.trackerMarker(deviceID); ok {
		h.geocoder.Enqueue(deviceID, marker.Position.Lat, marker.Position.Lng, true)
	}
	log.Printf("[WS] Client %s focused device %d", c.ID, deviceID)
}

// handleUnfocus restores the client to the fleet view.
func (h *WSHub) handleUnfocus(c *Client) {
	h.mu.Lock()
	c.DeviceID = 0
	h.mu.Unlock()
	h.restoreFleetViewIfIdle()
	log.Printf("[WS] Client %s returned to fleet view", c.ID)
}

// handleVisible replaces the background-geocoding window with the set
// of devices the client's list currently shows.
func (h *WSHub) handleVisible(c *Client, deviceIDs []int) {
	h.geocoder.SetVisible(deviceIDs)
	log.Printf("[WS] Client %s reported %d visible devices", c.ID, len(deviceIDs))
}

// handleFilters forwards list filter changes to the fleet subscription.
func (h *WSHub) handleFilters(status, search string, schoolID, page, limit int) {
	if h.streamClient != nil {
		h.streamClient.SetFilters(status, search, schoolID, page, limit)
	}
}

// SetMarkerLookup installs the marker lookup used for priority
// geocode enqueues on focus.
func (h *WSHub) SetMarkerLookup(fn func(deviceID int) (track.Marker, bool)) {
	h.mu.Lock()
	h.markerLookup = fn
	h.mu.Unlock()
}

func (h *WSHub) trackerMarker(deviceID int) (track.Marker, bool) {
	h.mu.RLock()
	fn := h.markerLookup
	h.mu.RUnlock()
	if fn == nil {
		return track.Marker{}, false
	}
	return fn(deviceID)
}

// generateClientID generates a connection identifier for logging
func generateClientID() string {
	return time.Now().Format("20060102150405") + "-" + strconv.Itoa(rand.Intn(1_000_000))
}

// ReadPump handles incoming messages from the client
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(512 * 1024)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] Client %s read error: %v", c.ID, err)
			}
			break
		}

		var wsMsg WSMessage
		if err := json.Unmarshal(message, &wsMsg); err != nil {
			continue
		}
		switch wsMsg.Type {
		case "focus":
			var data struct {
				DeviceID int `json:"device_id"`
			}
			if err := json.Unmarshal(wsMsg.Data, &data); err == nil && data.DeviceID != 0 {
				c.Hub.handleFocus(c, data.DeviceID)
			}
		case "unfocus":
			c.Hub.handleUnfocus(c)
		case "visible":
			var data struct {
				DeviceIDs []int `json:"device_ids"`
			}
			if err := json.Unmarshal(wsMsg.Data, &data); err == nil {
				c.Hub.handleVisible(c, data.DeviceIDs)
			}
		case "filters":
			var data struct {
				Status   string `json:"status"`
				Search   string `json:"search"`
				SchoolID int    `json:"school_id"`
				Page     int    `json:"page"`
				Limit    int    `json:"limit"`
			}
			if err := json.Unmarshal(wsMsg.Data, &data); err == nil {
				c.Hub.handleFilters(data.Status, data.Search, data.SchoolID, data.Page, data.Limit)
			}
		case "ping":
			select {
			case c.Send <- []byte(`{"type":"pong"}`):
			default:
			}
		}
	}
}

// WritePump handles outgoing messages to the client
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current websocket message
			n := len(c.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// WSHandler handles WebSocket upgrade requests
type WSHandler struct {
	hub *WSHub
}

// NewWSHandler creates a new WebSocket handler
func NewWSHandler(hub *WSHub) *WSHandler {
	return &WSHandler{hub: hub}
}

// HandleLive handles WebSocket connections for the live fleet view
func (h *WSHandler) HandleLive(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WS] Failed to upgrade connection: %v", err)
		return
	}

	clientID := c.Query("client_id")
	if clientID == "" {
		clientID = generateClientID()
	}

	client := &Client{
		ID:   clientID,
		Conn: conn,
		Send: make(chan []byte, 256),
		Hub:  h.hub,
	}

	client.Hub.register <- client

	go client.WritePump()
	go client.ReadPump()

	welcome := map[string]interface{}{
		"type":      "connected",
		"message":   "Connected to fleet live stream",
		"client_id": clientID,
	}
	if data, err := json.Marshal(welcome); err == nil {
		select {
		case client.Send <- data:
		default:
		}
	}
}

// GetStats returns WebSocket hub statistics
func (h *WSHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": h.hub.GetClientCount(),
	})
}
