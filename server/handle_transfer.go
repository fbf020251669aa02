package server

import (
	"github.com/Azure/go-autorest/autorest/to"
	"github.com/labstack/echo/v4"

	"github.com/vellumd/vellum/internal/helpers"
	"github.com/vellumd/vellum/models"
)

type transferRequest struct {
	NewOwner string `json:"newOwner" validate:"required,eth-addr"`
}

func (s *Server) handleTransfer(e echo.Context) error {
	doc, herr := s.documentFromPath(e)
	if doc == nil {
		return herr
	}

	var request transferRequest
	if err := e.Bind(&request); err != nil {
		return helpers.InputError(e, nil)
	}
	if err := e.Validate(request); err != nil {
		return helpers.InputError(e, to.StringPtr("InvalidNewOwner"))
	}

	p := principal(e)
	outcome, err := s.transferOwnership(e.Request().Context(), doc, request.NewOwner, p)
	if err != nil {
		return s.accessErrorResponse(e, err)
	}

	if err := s.recordAccess(doc.Hash, p.Address, models.AccessTransfer, request.NewOwner, outcome.ChainTxHash); err != nil {
		s.logger.Error("error logging transfer", "hash", doc.Hash, "error", err)
	}

	return e.JSON(accessStatus(outcome), outcome)
}
