package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"go-inventory-ledger/internal/model"
)

// Client is the part of a websocket connection the hub writes to.
type Client interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Actor is who caused an event.
type Actor struct {
	ID    uint   `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Event is the JSON message pushed to every connected client.
type Event struct {
	Type        string             `json:"type"`
	Action      string             `json:"action"`
	Product     *model.Product     `json:"product,omitempty"`
	ProductID   uint               `json:"productId,omitempty"`
	Transaction *model.Transaction `json:"transaction,omitempty"`
	User        *Actor             `json:"user,omitempty"`
	Message     string             `json:"message,omitempty"`
}

const (
	EventStockUpdate = "stock_update"

	ActionTransactionCreated = "transaction_created"
	ActionProductCreated     = "product_created"
	ActionProductUpdated     = "product_updated"
	ActionProductDeleted     = "product_deleted"
)

type Hub struct {
	clients    map[Client]bool
	register   chan Client
	unregister chan Client
	broadcast  chan []byte
	done       chan struct{}
	mutex      sync.Mutex
	logger     *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[Client]bool),
		register:   make(chan Client),
		unregister: make(chan Client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		logger:     logger.Named("ws"),
	}
}

// Run serves registrations and broadcasts until ctx ends, then closes every
// client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mutex.Unlock()
			return

		case conn := <-h.register:
			h.mutex.Lock()
			h.clients[conn] = true
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.Debug("ws client connected", zap.Int("clients", count))

		case conn := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mutex.Unlock()

		case message := <-h.broadcast:
			h.mutex.Lock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// Register adds a client. It returns false once the hub has stopped.
func (h *Hub) Register(c Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(c Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Publish queues event for every client. Events are dropped, with a warning,
// when the queue is full.
func (h *Hub) Publish(event Event) {
	msg, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to encode ws event", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws broadcast queue full, dropping event", zap.String("action", event.Action))
	}
}

// StockChanged publishes a ledger mutation.
func (h *Hub) StockChanged(product model.Product, tx model.Transaction) {
	verb := "sold"
	if tx.Type == model.TxPurchase {
		verb = "received"
	}
	h.Publish(Event{
		Type:        EventStockUpdate,
		Action:      ActionTransactionCreated,
		Product:     &product,
		ProductID:   product.ID,
		Transaction: &tx,
		Message:     fmt.Sprintf("%s %d units of '%s', stock now %d", verb, tx.Quantity, product.Name, product.StockQuantity),
	})
}

// ProductChanged publishes a catalog change made by actor.
func (h *Hub) ProductChanged(action string, product model.Product, actor *Actor) {
	event := Event{
		Type:      EventStockUpdate,
		Action:    action,
		Product:   &product,
		ProductID: product.ID,
		User:      actor,
	}
	if actor != nil {
		event.Message = fmt.Sprintf("%s %s '%s'", actor.Name, actionVerb(action), product.Name)
	}
	h.Publish(event)
}

func actionVerb(action string) string {
	switch action {
	case ActionProductCreated:
		return "created product"
	case ActionProductDeleted:
		return "deleted product"
	default:
		return "updated product"
	}
}

func (h *Hub) ClientCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}
