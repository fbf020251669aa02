package server

import (
	"errors"

	"github.com/Azure/go-autorest/autorest/to"
	"github.com/labstack/echo/v4"

	"github.com/vellumd/vellum/internal/apperr"
	"github.com/vellumd/vellum/internal/helpers"
	"github.com/vellumd/vellum/models"
)

type accessMutationRequest struct {
	Address string `json:"address" validate:"required,eth-addr"`
}

func (s *Server) handleAccessGrant(e echo.Context) error {
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
	outcome, err := s.grantAccess(e.Request().Context(), doc, request.Address, p)
	if err != nil {
		return s.accessErrorResponse(e, err)
	}

	if err := s.recordAccess(doc.Hash, p.Address, models.AccessGrant, request.Address, outcome.ChainTxHash); err != nil {
		s.logger.Error("error logging grant", "hash", doc.Hash, "error", err)
	}

	return e.JSON(accessStatus(outcome), outcome)
}

// accessStatus maps a partial chain mirror to 202 so callers can tell
// full success from DB-only success.
func accessStatus(outcome *accessOutcome) int {
	if outcome.ChainMirror {
		return 200
	}
	return 202
}

func (s *Server) accessErrorResponse(e echo.Context, err error) error {
	switch {
	case errors.Is(err, apperr.ErrAuthorization):
		return helpers.AuthError(e, nil)
	case errors.Is(err, apperr.ErrValidation):
		return helpers.InputError(e, to.StringPtr(err.Error()))
	default:
		s.logger.Error("access mutation failed", "error", err)
		return helpers.ServerError(e, nil)
	}
}
