package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-inventory-ledger/internal/model"
)

type fakeClient struct {
	mu       sync.Mutex
	messages [][]byte
	closed   bool
	failing  bool
}

func (c *fakeClient) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return errors.New("broken pipe")
	}
	c.messages = append(c.messages, data)
	return nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeClient) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.messages...)
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h, cancel
}

func TestHub_BroadcastsStockChanges(t *testing.T) {
	h, _ := startHub(t)
	good := &fakeClient{}
	bad := &fakeClient{failing: true}
	require.True(t, h.Register(good))
	require.True(t, h.Register(bad))

	product := model.Product{Name: "Widget", StockQuantity: 4}
	product.ID = 7
	h.StockChanged(product, model.Transaction{Type: model.TxSale, ProductID: 7, Quantity: 1})

	require.Eventually(t, func() bool { return len(good.received()) == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, bad.isClosed())
	assert.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	var event Event
	require.NoError(t, json.Unmarshal(good.received()[0], &event))
	assert.Equal(t, EventStockUpdate, event.Type)
	assert.Equal(t, ActionTransactionCreated, event.Action)
	assert.Equal(t, uint(7), event.ProductID)
	assert.Equal(t, 4, event.Product.StockQuantity)
	assert.Contains(t, event.Message, "sold 1 units of 'Widget'")
}

func TestHub_ProductChangedMessage(t *testing.T) {
	h, _ := startHub(t)
	c := &fakeClient{}
	require.True(t, h.Register(c))

	h.ProductChanged(ActionProductDeleted, model.Product{Name: "Old"}, &Actor{ID: 1, Name: "Ann"})

	require.Eventually(t, func() bool { return len(c.received()) == 1 }, time.Second, 5*time.Millisecond)
	var event Event
	require.NoError(t, json.Unmarshal(c.received()[0], &event))
	assert.Equal(t, "Ann deleted product 'Old'", event.Message)
	assert.Equal(t, "Ann", event.User.Name)
}

func TestHub_StopClosesClients(t *testing.T) {
	h, cancel := startHub(t)
	c := &fakeClient{}
	require.True(t, h.Register(c))

	cancel()
	require.Eventually(t, c.isClosed, time.Second, 5*time.Millisecond)
	<-h.done
	assert.False(t, h.Register(&fakeClient{}))
	h.Unregister(c)
}
