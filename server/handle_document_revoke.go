package server

import (
	"github.com/labstack/echo/v4"

	"github.com/vellumd/vellum/models"
)

func (s *Server) handleDocumentRevoke(e echo.Context) error {
	doc, herr := s.documentFromPath(e)
	if doc == nil {
		return herr
	}

	p := principal(e)
	outcome, err := s.deactivate(e.Request().Context(), doc, p)
	if err != nil {
		return s.accessErrorResponse(e, err)
	}

	if err := s.recordAccess(doc.Hash, p.Address, models.AccessDeactivate, "", outcome.ChainTxHash); err != nil {
		s.logger.Error("error logging deactivation", "hash", doc.Hash, "error", err)
	}

	return e.JSON(accessStatus(outcome), outcome)
}
