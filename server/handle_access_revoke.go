package server

import (
	"github.com/Azure/go-autorest/autorest/to"
	"github.com/labstack/echo/v4"

	"github.com/vellumd/vellum/internal/helpers"
	"github.com/vellumd/vellum/models"
)

func (s *Server) handleAccessRevoke(e echo.Context) error {
	doc, herr := s.documentFromPath(e)
	if doc == nil {
		return herr
	}

	var request accessMutationRequest
	if err := e.Bind(&request); err != nil {
		return helpers.InputError(e, nil)
	}
	if err := e.Validate(request); err != nil {
		return helpers.InputError(e, to.StringPtr("InvalidAddress"))
	}

	p := principal(e)
	outcome, err := s.revokeAccess(e.Request().Context(), doc, request.Address, p)
	if err != nil {
		return s.accessErrorResponse(e, err)
	}

	if err := s.recordAccess(doc.Hash, p.Address, models.AccessRevoke, request.Address, outcome.ChainTxHash); err != nil {
		s.logger.Error("error logging revoke", "hash", doc.Hash, "error", err)
	}

	return e.JSON(accessStatus(outcome), outcome)
}
