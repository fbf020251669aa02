package server

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vellumd/vellum/internal/helpers"
	"github.com/vellumd/vellum/models"
)

type verificationStats struct {
	TotalVerifications int64      `json:"totalVerifications"`
	LastVerifiedAt     *time.Time `json:"lastVerifiedAt,omitempty"`
	// WindowDays bounds the per-result breakdown below; the totals
	// above cover the document's whole lifetime.
	WindowDays int              `json:"windowDays"`
	ByResult   map[string]int64 `json:"byResult"`
}

func (s *Server) handleDocumentStats(e echo.Context) error {
	doc, herr := s.documentFromPath(e)
	if doc == nil {
		return herr
	}

	if !canAccess(principal(e), doc, actionView) {
		return helpers.AuthError(e, nil)
	}

	stats, err := s.documentStats(doc)
	if err != nil {
		s.logger.Error("error aggregating verification stats", "hash", doc.Hash, "error", err)
		return helpers.ServerError(e, nil)
	}

	return e.JSON(200, stats)
}

func (s *Server) documentStats(doc *models.Document) (*verificationStats, error) {
	stats := &verificationStats{
		TotalVerifications: doc.VerificationCount,
		LastVerifiedAt:     doc.LastVerifiedAt,
		WindowDays:         s.config.MetricsRetentionDays,
		ByResult:           map[string]int64{},
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -s.config.MetricsRetentionDays)

	rows := []struct {
		Result string
		N      int64
	}{}
	if err := s.db.Model(&models.VerificationLog{}).
		Select("result, count(*) as n").
		Where("document_hash = ? AND created_at >= ?", doc.Hash, cutoff).
		Group("result").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	for _, r := range rows {
		stats.ByResult[r.Result] = r.N
	}

	return stats, nil
}
