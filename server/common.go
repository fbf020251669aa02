package server

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vellumd/vellum/models"
)

func (s *Server) getDocumentByHash(hash string) (*models.Document, error) {
	var doc models.Document
	if err := s.db.First(&doc, "document_hash = ?", strings.ToLower(hash)).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *Server) getPrincipalByAddress(addr string) (*models.Principal, error) {
	var p models.Principal
	if err := s.db.First(&p, "address = ?", strings.ToLower(addr)).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// listCursor encodes a page boundary as the row's created_at plus its
// hash, so the filter below can match the listing sort exactly.
func listCursor(doc *models.Document) string {
	return doc.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + doc.Hash
}

func parseListCursor(cursor string) (time.Time, string, bool) {
	at, hash, found := strings.Cut(cursor, "|")
	if !found {
		return time.Time{}, "", false
	}
	t, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return time.Time{}, "", false
	}
	return t, hash, true
}

func (s *Server) getDocumentsByOwner(owner string, limit int, cursor string) ([]models.Document, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	q := s.db.Where("owner = ?", strings.ToLower(owner)).Order("created_at DESC, document_hash").Limit(limit)
	if cursor != "" {
		at, hash, ok := parseListCursor(cursor)
		if !ok {
			return nil, gorm.ErrInvalidData
		}
		q = q.Where("created_at < ? OR (created_at = ? AND document_hash > ?)", at, at, hash)
	}

	var docs []models.Document
	if err := q.Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

// updateBlockchainFields records the chain receipt and flips the status
// in one write so readers never observe a partial commit.
func (s *Server) updateBlockchainFields(hash, txHash string, blockNumber, gasUsed uint64) error {
	return s.db.Model(&models.Document{}).Where("document_hash = ?", hash).Updates(map[string]any{
		"tx_hash":      txHash,
		"block_number": blockNumber,
		"gas_used":     gasUsed,
		"status":       models.StatusBlockchainStored,
	}).Error
}

func (s *Server) appendViewer(doc *models.Document, addr string) error {
	viewers := doc.ViewerList()
	for _, v := range viewers {
		if v == addr {
			return nil
		}
	}
	viewers = append(viewers, addr)
	doc.Viewers = strings.Join(viewers, ",")

	return s.db.Model(&models.Document{}).Where("document_hash = ?", doc.Hash).
		Update("viewers", doc.Viewers).Error
}

func (s *Server) removeViewer(doc *models.Document, addr string) error {
	var kept []string
	for _, v := range doc.ViewerList() {
		if v != addr {
			kept = append(kept, v)
		}
	}
	doc.Viewers = strings.Join(kept, ",")

	return s.db.Model(&models.Document{}).Where("document_hash = ?", doc.Hash).
		Update("viewers", doc.Viewers).Error
}

func (s *Server) recordAccess(hash, actor string, act models.AccessAction, target string, chainTx *string) error {
	return s.db.Create(&models.AccessLog{
		ID:           uuid.NewString(),
		DocumentHash: hash,
		Actor:        actor,
		Action:       act,
		Target:       target,
		ChainTxHash:  chainTx,
		CreatedAt:    time.Now().UTC(),
	}).Error
}

// recordVerification bumps the document counters and appends the audit
// log entry in one transaction.
func (s *Server) recordVerification(doc *models.Document, entry *models.VerificationLog) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if doc != nil {
			now := time.Now().UTC()
			if err := tx.Model(&models.Document{}).Where("document_hash = ?", doc.Hash).Updates(map[string]any{
				"verification_count": gorm.Expr("verification_count + 1"),
				"last_verified_at":   now,
			}).Error; err != nil {
				return err
			}
		}

		return tx.Create(entry).Error
	})
}
