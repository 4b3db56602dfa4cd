package httpapi

import (
	_ "embed"

	"github.com/gofiber/fiber/v2"
)

//go:embed static/index.html
var indexHTML []byte

// handleIndex serves the embedded single-page UI. The page hydrates
// itself from /api/settings and /api/status.
func (s *Server) handleIndex(c *fiber.Ctx) error {
	c.Type("html")
	return c.Send(indexHTML)
}
