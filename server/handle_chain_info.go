package server

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
)

func (s *Server) handleChainInfo(e echo.Context) error {
	ctx, cancel := context.WithTimeout(e.Request().Context(), 10*time.Second)
	defer cancel()

	info, err := s.registry.NetworkInfo(ctx)
	if err != nil {
		s.logger.Warn("chain info unavailable", "error", err)
		return e.JSON(503, map[string]string{"error": "ChainUnavailable"})
	}

	return e.JSON(200, info)
}
