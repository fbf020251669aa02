package server

import (
	"github.com/labstack/echo/v4"

	"github.com/vellumd/vellum/internal/helpers"
)

// handleQr serves the verification QR for a document. Public: the QR
// only carries the hash and tx hash, both already public on-chain.
func (s *Server) handleQr(e echo.Context) error {
	doc, herr := s.documentFromPath(e)
	if doc == nil {
		return herr
	}

	png, err := s.verificationQr(doc)
	if err != nil {
		s.logger.Error("error rendering qr", "hash", doc.Hash, "error", err)
		return helpers.ServerError(e, nil)
	}

	return e.Blob(200, "image/png", png)
}
