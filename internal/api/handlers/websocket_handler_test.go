package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/product-discovery/backend/internal/cache"
	"github.com/product-discovery/backend/internal/catalog/catalogtest"
	"github.com/product-discovery/backend/internal/search"
	"github.com/product-discovery/backend/internal/storage/models"
)

// recordingConn keeps every reply as decoded JSON.
type recordingConn struct {
	replies []map[string]any
	err     error
}

func (r *recordingConn) WriteJSON(v interface{}) error {
	if r.err != nil {
		return r.err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	r.replies = append(r.replies, out)
	return nil
}

func newWebSocketHandler(cat *catalogtest.Catalog) *WebSocketHandler {
	facade := cache.New(cache.NewMemoryStore(), cache.Options{})
	return NewWebSocketHandler(search.NewEngine(cat, facade, search.DefaultConfig()))
}

func shirtCatalog() *catalogtest.Catalog {
	return catalogtest.New().
		AddCategory(1, "Shirts").
		AddProduct(models.Product{ID: 1, Name: "Shirt A", CategoryID: 1, Price: 10, Stock: 5, IsActive: true}).
		AddProduct(models.Product{ID: 2, Name: "Shirt B", CategoryID: 1, Price: 20, Stock: 3, IsActive: true}).
		AddProduct(models.Product{ID: 3, Name: "Shirt C", CategoryID: 1, Price: 30, Stock: 0, IsActive: true})
}

func TestWebSocketSearchReplyCarriesResults(t *testing.T) {
	h := newWebSocketHandler(shirtCatalog())
	conn := &recordingConn{}

	minPrice := 15.0
	msg := wsMessage{Type: "search", Request: search.Request{MinPrice: &minPrice, InStock: true}}
	require.NoError(t, h.handleMessage(conn, msg, models.Caller{UserID: "u1"}))

	require.Len(t, conn.replies, 1)
	reply := conn.replies[0]
	assert.Equal(t, "results", reply["type"])
	assert.Equal(t, float64(1), reply["total"])
	assert.Equal(t, float64(1), reply["page"])
	assert.Equal(t, float64(1), reply["pages"])

	results := reply["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, float64(2), results[0].(map[string]any)["id"])
}

func TestWebSocketSearchValidationReplyHasFields(t *testing.T) {
	h := newWebSocketHandler(shirtCatalog())
	conn := &recordingConn{}

	msg := wsMessage{Type: "search", Request: search.Request{Limit: 500}}
	require.NoError(t, h.handleMessage(conn, msg, models.Caller{}))

	require.Len(t, conn.replies, 1)
	reply := conn.replies[0]
	assert.Equal(t, "error", reply["type"])
	assert.Equal(t, "validation failed", reply["error"])

	fields := reply["fields"].(map[string]any)
	assert.Contains(t, fields, "limit")
}

func TestWebSocketUnsupportedMessageType(t *testing.T) {
	h := newWebSocketHandler(shirtCatalog())
	conn := &recordingConn{}

	require.NoError(t, h.handleMessage(conn, wsMessage{Type: "subscribe"}, models.Caller{}))

	require.Len(t, conn.replies, 1)
	assert.Equal(t, "error", conn.replies[0]["type"])
	assert.Equal(t, "unsupported message type", conn.replies[0]["error"])
	assert.NotContains(t, conn.replies[0], "fields")
}

func TestWebSocketSearchFailureHidesCause(t *testing.T) {
	cat := shirtCatalog()
	cat.Err = errors.New("db down")
	h := newWebSocketHandler(cat)
	conn := &recordingConn{}

	require.NoError(t, h.handleMessage(conn, wsMessage{Type: "search"}, models.Caller{}))

	require.Len(t, conn.replies, 1)
	assert.Equal(t, "error", conn.replies[0]["type"])
	assert.Equal(t, "Failed to search products", conn.replies[0]["error"])
}

func TestWebSocketWriteFailureIsReturned(t *testing.T) {
	h := newWebSocketHandler(shirtCatalog())
	conn := &recordingConn{err: errors.New("broken pipe")}

	err := h.handleMessage(conn, wsMessage{Type: "search"}, models.Caller{})
	assert.EqualError(t, err, "broken pipe")
}

func TestWebSocketUpgradeRejectsPlainHTTP(t *testing.T) {
	h := newWebSocketHandler(shirtCatalog())

	app := fiber.New()
	app.Get("/ws/search", h.Upgrade, func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/ws/search", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}
