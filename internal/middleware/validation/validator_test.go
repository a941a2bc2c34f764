package validation

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp() *fiber.App {
	app := fiber.New()
	app.Use(Middleware(Config{MaxQueryLength: 10}))
	echo := func(c *fiber.Ctx) error { return c.Send(c.Body()) }
	app.Post("/api/v1/search", echo)
	app.Post("/api/v1/recommendations", echo)
	app.Get("/api/v1/products", echo)
	return app
}

func post(t *testing.T, app *fiber.App, path, contentType, body string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(raw)
}

func TestMiddlewareAcceptsJSONObjects(t *testing.T) {
	app := newApp()

	status, body := post(t, app, "/api/v1/recommendations", "application/json", `{"product_id":1}`)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"product_id":1}`, body)

	status, _ = post(t, app, "/api/v1/search", "application/json", "")
	assert.Equal(t, http.StatusOK, status)
}

func TestMiddlewareRejectsBadBodies(t *testing.T) {
	app := newApp()

	status, _ := post(t, app, "/api/v1/recommendations", "text/plain", `hello`)
	assert.Equal(t, http.StatusUnsupportedMediaType, status)

	status, _ = post(t, app, "/api/v1/recommendations", "application/json", `[1,2]`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = post(t, app, "/api/v1/search", "application/json", `{"query":42}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = post(t, app, "/api/v1/search", "application/json", `{"query":"far too long a query"}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestMiddlewareStripsNULBytesFromQuery(t *testing.T) {
	app := newApp()

	status, body := post(t, app, "/api/v1/search", "application/json", `{"query":"mu\u0000g"}`)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"query":"mug"}`, body)
}

func TestMiddlewareIgnoresReads(t *testing.T) {
	app := newApp()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
