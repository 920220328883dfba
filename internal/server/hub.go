// Package server coordinates client registration, room membership, event
// fan-out, and connection cleanup for the relay via the Hub type.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat-relay/internal/metrics"
	"github.com/Tyrowin/gochat-relay/internal/relay"
)

// Hub manages all WebSocket client connections and the rooms they joined.
// Registration, joins and deliveries are serialized through the Run loop, so
// calls made from one goroutine are delivered in call order.
type Hub struct {
	clients    map[*Client]bool
	rooms      map[string]map[*Client]struct{}
	deliveries chan delivery
	join       chan membership
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	log        zerolog.Logger
}

var _ relay.Fanout = (*Hub)(nil)

// NewHub creates and initializes a new Hub instance with all necessary
// channels and maps. The returned Hub is ready to manage connections once
// Run is started.
func NewHub(logger zerolog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]struct{}),
		deliveries: make(chan delivery),
		join:       make(chan membership),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		log:        logger.With().Str("component", "hub").Logger(),
	}
}

// Context is cancelled when the hub shuts down.
func (h *Hub) Context() context.Context {
	return h.ctx
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// RoomSize returns the number of clients in a room.
func (h *Hub) RoomSize(roomID string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.rooms[roomID])
}

// Register hands a new client to the hub, which starts its pumps. It returns
// false if the hub is shutting down.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

func (h *Hub) submit(d delivery) {
	select {
	case h.deliveries <- d:
	case <-h.ctx.Done():
	}
}

// Join implements relay.Fanout.
func (h *Hub) Join(c relay.Conn, roomID string) {
	client, ok := c.(*Client)
	if !ok || client == nil {
		h.log.Error().Str("room", roomID).Msg("join with a foreign connection type")
		return
	}
	select {
	case h.join <- membership{client: client, room: roomID}:
	case <-h.ctx.Done():
	}
}

// Send implements relay.Fanout.
func (h *Hub) Send(c relay.Conn, payload []byte) {
	client, ok := c.(*Client)
	if !ok || client == nil {
		h.log.Error().Msg("send to a foreign connection type")
		return
	}
	h.submit(delivery{target: client, payload: payload})
}

// Broadcast implements relay.Fanout. except may be nil.
func (h *Hub) Broadcast(roomID string, payload []byte, except relay.Conn) {
	exceptClient, _ := except.(*Client)
	h.submit(delivery{room: roomID, except: exceptClient, payload: payload})
}

// BroadcastAll implements relay.Fanout.
func (h *Hub) BroadcastAll(payload []byte) {
	h.submit(delivery{all: true, payload: payload})
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Interface("panic", r).Msg("recovered from panic in safeSend")
		}
	}()

	// Hold the lock during the entire send operation to prevent races with close
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	_, exists := h.clients[client]
	if !exists || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Run starts the hub's main event loop. It should be called in a separate
// goroutine and returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			h.handleRegister(client)

		case client := <-h.unregister:
			h.mutex.Lock()
			removed := h.detach(client)
			clientCount := len(h.clients)
			h.mutex.Unlock()
			if removed {
				// Close the channel after releasing the lock
				close(client.send)
				h.log.Info().Str("conn", client.id).Str("addr", client.addr).Int("clients", clientCount).Msg("client unregistered")
			}

		case m := <-h.join:
			h.handleJoin(m)

		case d := <-h.deliveries:
			h.handleDelivery(d)
		}
	}
}

func (h *Hub) handleRegister(client *Client) {
	if client == nil {
		h.log.Warn().Msg("received nil client registration; skipping")
		return
	}

	h.mutex.Lock()
	client.closed = false
	h.clients[client] = true
	clientCount := len(h.clients)
	h.mutex.Unlock()
	metrics.ActiveConnections.Inc()
	h.log.Info().Str("conn", client.id).Str("addr", client.addr).Int("clients", clientCount).Msg("client registered")

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *Hub) handleJoin(m membership) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, ok := h.clients[m.client]; !ok {
		return
	}
	members, ok := h.rooms[m.room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[m.room] = members
	}
	members[m.client] = struct{}{}
	m.client.rooms[m.room] = struct{}{}
	h.log.Debug().Str("conn", m.client.id).Str("room", m.room).Int("members", len(members)).Msg("client joined room")
}

// detach removes client from the client set and every room. The caller
// holds the write lock.
func (h *Hub) detach(client *Client) bool {
	if _, ok := h.clients[client]; !ok {
		return false
	}
	delete(h.clients, client)
	client.closed = true

	for room := range client.rooms {
		if members, ok := h.rooms[room]; ok {
			delete(members, client)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	metrics.ActiveConnections.Dec()
	return true
}

// handleDelivery resolves the recipients of d and queues the payload for each
func (h *Hub) handleDelivery(d delivery) {
	var targets []*Client
	switch {
	case d.target != nil:
		targets = []*Client{d.target}
	case d.all:
		targets = h.getClientSnapshot()
	default:
		targets = h.getRoomSnapshot(d.room)
	}

	clientsToRemove := h.deliverToClients(targets, d)
	h.removeFailedClients(clientsToRemove)
}

// getClientSnapshot returns a thread-safe snapshot of all current clients
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// getRoomSnapshot returns a thread-safe snapshot of a room's members
func (h *Hub) getRoomSnapshot(roomID string) []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	members := h.rooms[roomID]
	clients := make([]*Client, 0, len(members))
	for client := range members {
		clients = append(clients, client)
	}
	return clients
}

// deliverToClients queues the payload for each target except d.except and
// returns the clients whose buffers were full
func (h *Hub) deliverToClients(clients []*Client, d delivery) []*Client {
	var clientsToRemove []*Client

	for _, client := range clients {
		if d.except != nil && client == d.except {
			continue
		}
		if !h.safeSend(client, d.payload) {
			clientsToRemove = append(clientsToRemove, client)
		}
	}

	return clientsToRemove
}

// removeFailedClients removes clients that failed to receive messages and closes their channels
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	if len(clientsToRemove) == 0 {
		return
	}

	h.mutex.Lock()
	var channelsToClose []chan []byte
	for _, client := range clientsToRemove {
		if h.detach(client) {
			channelsToClose = append(channelsToClose, client.send)
			metrics.SlowConsumerDrops.Inc()
			h.log.Warn().Str("conn", client.id).Str("addr", client.addr).Msg("client removed due to full send buffer")
		}
	}
	h.mutex.Unlock()

	// Close channels after releasing the lock
	for _, ch := range channelsToClose {
		close(ch)
	}
}

// shutdownClients gracefully closes all active client connections
func (h *Hub) shutdownClients() {
	h.log.Info().Msg("shutting down all client connections")

	clients := h.getClientSnapshot()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					h.log.Warn().Err(err).Str("addr", client.addr).Msg("error closing client connection")
				}
			}
		}
	}

	h.log.Info().Int("clients", len(clients)).Msg("closed client connections")
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info().Msg("initiating hub shutdown")

	h.cancel()

	// Wait for Run() to complete
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info().Msg("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn().Msg("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
