package server

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vellumd/vellum/ipfs"
)

type healthResponse struct {
	Version   string                `json:"version"`
	Db        bool                  `json:"db"`
	Chain     bool                  `json:"chain"`
	Providers []ipfs.ProviderHealth `json:"providers"`
}

func (s *Server) handleHealth(e echo.Context) error {
	ctx, cancel := context.WithTimeout(e.Request().Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{
		Version: "vellum " + s.config.Version,
	}

	sqlDb, err := s.db.DB()
	resp.Db = err == nil && sqlDb.PingContext(ctx) == nil

	resp.Chain = s.registry.Health(ctx) == nil
	resp.Providers = s.store.HealthCheck(ctx)

	return e.JSON(200, resp)
}
