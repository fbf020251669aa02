package server

import (
	"context"
	"errors"
	"time"

	"github.com/vellumd/vellum/chain"
	"github.com/vellumd/vellum/envelope"
	"github.com/vellumd/vellum/models"
)

// runReconciler periodically re-offers stored-but-unconfirmed documents
// to the chain. A restart leaves in-flight pipelines at status=stored;
// this loop is what heals them.
func (s *Server) runReconciler(ctx context.Context) {
	ticker := time.NewTicker(s.config.ReconcileEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reconcileOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) reconcileOnce(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.config.ReconcileAfter)

	var pending []models.Document
	if err := s.db.Where("status = ? AND is_active = ? AND created_at < ?", models.StatusStored, true, cutoff).
		Limit(50).Find(&pending).Error; err != nil {
		s.logger.Error("error scanning for pending documents", "error", err)
		return
	}

	for i := range pending {
		doc := &pending[i]

		hashBytes, err := envelope.HashToBytes(doc.Hash)
		if err != nil {
			s.logger.Error("pending document has malformed hash", "hash", doc.Hash, "error", err)
			continue
		}

		cctx, cancel := context.WithTimeout(ctx, s.config.ChainTimeout)
		onchain, err := s.registry.VerifyDocument(cctx, hashBytes)
		cancel()

		switch {
		case err == nil && onchain.IsValid:
			// committed on-chain but the receipt never landed locally,
			// likely a crash between the commit and the DB update; the
			// receipt is unrecoverable so only the status is healed
			if uerr := s.db.Model(&models.Document{}).Where("document_hash = ?", doc.Hash).
				Update("status", models.StatusBlockchainStored).Error; uerr != nil {
				s.logger.Error("error healing document status", "hash", doc.Hash, "error", uerr)
			} else {
				s.logger.Info("healed chain-committed document", "hash", doc.Hash)
			}
		case errors.Is(err, chain.ErrDocumentNotFound):
			if cerr := s.commitToChain(ctx, doc); cerr != nil {
				s.logger.Warn("reconcile commit failed", "hash", doc.Hash, "error", cerr)
			} else {
				s.logger.Info("reconciled pending document", "hash", doc.Hash, "tx", doc.TxHash)
			}
		default:
			s.logger.Warn("reconcile chain lookup failed", "hash", doc.Hash, "error", err)
		}
	}
}

// runLogRetention prunes verification log entries past the metrics
// retention horizon. Audit-grade retention is enforced by the longer
// LogRetentionDays bound.
func (s *Server) runLogRetention(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().UTC().AddDate(0, 0, -s.config.LogRetentionDays)
			res := s.db.Where("created_at < ?", cutoff).Delete(&models.VerificationLog{})
			if res.Error != nil {
				s.logger.Error("error pruning verification logs", "error", res.Error)
			} else if res.RowsAffected > 0 {
				s.logger.Info("pruned verification logs", "count", res.RowsAffected)
			}
		case <-ctx.Done():
			return
		}
	}
}
