package server

import (
	"bytes"

	"github.com/labstack/echo/v4"

	"github.com/vellumd/vellum/envelope"
	"github.com/vellumd/vellum/internal/apperr"
	"github.com/vellumd/vellum/internal/helpers"
	"github.com/vellumd/vellum/models"
)

// handleDocumentDownload retrieves the encrypted artifact, unwraps the
// document key, and streams the decrypted plaintext to an authorized
// caller. This is the only path that reads the wrapped key.
func (s *Server) handleDocumentDownload(e echo.Context) error {
	doc, err := s.documentFromPath(e)
	if doc == nil {
		return err
	}

	if !canAccess(principal(e), doc, actionDownload) {
		return helpers.AuthError(e, nil)
	}

	payload, err := s.store.Retrieve(e.Request().Context(), doc.Cid)
	if err != nil {
		s.logger.Error("error retrieving artifact", "hash", doc.Hash, "cid", doc.Cid, "error", err)
		return e.JSON(503, map[string]string{"error": "ContentStoreUnavailable"})
	}

	key, err := s.masterKey.Unwrap(doc.WrappedKey)
	if err != nil {
		s.logger.Error("error unwrapping document key", "hash", doc.Hash, "error", err)
		return helpers.ServerError(e, nil)
	}

	plain, err := envelope.Open(payload, key)
	for i := range key {
		key[i] = 0
	}
	if err != nil {
		err = apperr.Wrap(apperr.ErrIntegrity, err)
		s.logger.Error("artifact failed integrity check", "hash", doc.Hash, "cid", doc.Cid, "error", err)
		return e.JSON(500, map[string]string{"error": "ArtifactIntegrityFailure"})
	}

	// plaintext left the service; audit it
	if err := s.recordAccess(doc.Hash, principal(e).Address, models.AccessDownload, "", nil); err != nil {
		s.logger.Error("error logging download", "hash", doc.Hash, "error", err)
	}

	e.Response().Header().Set("content-disposition", `attachment; filename="`+doc.Filename+`"`)
	return e.Stream(200, doc.MimeType, bytes.NewReader(plain))
}
