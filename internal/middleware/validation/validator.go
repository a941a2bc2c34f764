package validation

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Config struct {
	MaxQueryLength      int
	MaxBodySize         int
	AllowedContentTypes []string
	// SearchPath is the route whose "query" field is length-checked and
	// stripped of NUL bytes before the handler sees it.
	SearchPath string
	Logger     *zap.Logger
}

// Middleware rejects POST bodies that are not JSON objects before they reach
// a handler. Field-level validation stays with the services.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQueryLength == 0 {
		cfg.MaxQueryLength = 255
	}
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = 64 * 1024
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}
	if cfg.SearchPath == "" {
		cfg.SearchPath = "/api/v1/search"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost {
			return c.Next()
		}

		contentType := c.Get(fiber.HeaderContentType)
		if contentType != "" && !allowedContentType(contentType, cfg.AllowedContentTypes) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		body := c.Body()
		if len(body) > cfg.MaxBodySize {
			return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
				"error": "Request body exceeds maximum size",
			})
		}
		if len(body) == 0 {
			return c.Next()
		}

		var req map[string]interface{}
		if err := json.Unmarshal(body, &req); err != nil {
			cfg.Logger.Debug("Rejected malformed JSON body",
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()),
				zap.Error(err),
			)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON format",
			})
		}

		if c.Path() == cfg.SearchPath {
			if raw, present := req["query"]; present && raw != nil {
				query, ok := raw.(string)
				if !ok {
					return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
						"error": "Query must be a string",
					})
				}
				if len(query) > cfg.MaxQueryLength {
					return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
						"error": "Query exceeds maximum length",
					})
				}
				if strings.ContainsRune(query, '\x00') {
					req["query"] = sanitizeString(query)
					sanitized, err := json.Marshal(req)
					if err != nil {
						return err
					}
					c.Request().SetBody(sanitized)
				}
			}
		}

		return c.Next()
	}
}

func allowedContentType(contentType string, allowed []string) bool {
	for _, allowedType := range allowed {
		if strings.Contains(contentType, allowedType) {
			return true
		}
	}
	return false
}

func sanitizeString(input string) string {
	return strings.ReplaceAll(input, "\x00", "")
}
