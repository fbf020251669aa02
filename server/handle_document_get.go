package server

import (
	"errors"

	"github.com/Azure/go-autorest/autorest/to"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/vellumd/vellum/internal/helpers"
	"github.com/vellumd/vellum/models"
)

func (s *Server) documentFromPath(e echo.Context) (*models.Document, error) {
	hash, ok := helpers.CanonicalHash(e.Param("hash"))
	if !ok {
		return nil, helpers.InputError(e, to.StringPtr("InvalidHash"))
	}

	doc, err := s.getDocumentByHash(hash)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, helpers.NotFoundError(e, to.StringPtr("DocumentNotFound"))
		}
		s.logger.Error("error looking up document", "hash", hash, "error", err)
		return nil, helpers.ServerError(e, nil)
	}

	return doc, nil
}

func (s *Server) handleDocumentGet(e echo.Context) error {
	doc, err := s.documentFromPath(e)
	if doc == nil {
		return err
	}

	if !canAccess(principal(e), doc, actionView) {
		return helpers.AuthError(e, nil)
	}

	return e.JSON(200, map[string]any{
		"document":        newDocumentView(doc),
		"verificationUrl": s.verificationUrl(doc),
	})
}
