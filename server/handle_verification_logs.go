package server

import (
	"time"

	"github.com/Azure/go-autorest/autorest/to"
	"github.com/labstack/echo/v4"

	"github.com/vellumd/vellum/internal/helpers"
	"github.com/vellumd/vellum/models"
)

// handleVerificationLogs returns a document's audit trail in insertion
// order. Filters on result and date range are conjunctive.
func (s *Server) handleVerificationLogs(e echo.Context) error {
	doc, herr := s.documentFromPath(e)
	if doc == nil {
		return herr
	}

	if !canAccess(principal(e), doc, actionView) {
		return helpers.AuthError(e, nil)
	}

	q := s.db.Where("document_hash = ?", doc.Hash).Order("created_at ASC, id")

	if result := e.QueryParam("result"); result != "" {
		q = q.Where("result = ?", result)
	}

	if from := e.QueryParam("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return helpers.InputError(e, to.StringPtr("InvalidFrom"))
		}
		q = q.Where("created_at >= ?", t)
	}

	if until := e.QueryParam("until"); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return helpers.InputError(e, to.StringPtr("InvalidUntil"))
		}
		q = q.Where("created_at <= ?", t)
	}

	var logs []models.VerificationLog
	if err := q.Find(&logs).Error; err != nil {
		s.logger.Error("error querying verification logs", "hash", doc.Hash, "error", err)
		return helpers.ServerError(e, nil)
	}

	var access []models.AccessLog
	if err := s.db.Where("document_hash = ?", doc.Hash).Order("created_at ASC, id").Find(&access).Error; err != nil {
		s.logger.Error("error querying access logs", "hash", doc.Hash, "error", err)
		return helpers.ServerError(e, nil)
	}

	return e.JSON(200, map[string]any{
		"verifications": logs,
		"access":        access,
	})
}
