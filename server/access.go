package server

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vellumd/vellum/envelope"
	"github.com/vellumd/vellum/internal/apperr"
	"github.com/vellumd/vellum/internal/helpers"
	"github.com/vellumd/vellum/models"
)

// accessOutcome reports both sides of an ACL mutation. The DB is the
// user-facing source of truth; the chain mirror may lag, and that
// divergence is surfaced, never hidden.
type accessOutcome struct {
	Committed    bool    `json:"committed"`
	ChainMirror  bool    `json:"chainMirror"`
	ChainTxHash  *string `json:"chainTxHash,omitempty"`
	ChainWarning string  `json:"chainWarning,omitempty"`
}

func (s *Server) grantAccess(ctx context.Context, doc *models.Document, target string, by *models.Principal) (*accessOutcome, error) {
	if !doc.IsActive {
		return nil, apperr.Validation("document is revoked")
	}

	if !canAccess(by, doc, actionTransfer) {
		return nil, apperr.Wrap(apperr.ErrAuthorization, errors.New("principal may not grant access"))
	}

	addr, ok := canonicalTarget(target)
	if !ok {
		return nil, apperr.Validation("malformed target address %q", target)
	}

	if err := s.appendViewer(doc, addr); err != nil {
		return nil, err
	}

	return s.mirrorToChain(ctx, doc, func(cctx context.Context, hash [32]byte) (string, error) {
		receipt, err := s.registry.GrantAccess(cctx, hash, common.HexToAddress(addr))
		if err != nil {
			return "", err
		}
		return receipt.TxHash, nil
	}), nil
}

func (s *Server) revokeAccess(ctx context.Context, doc *models.Document, target string, by *models.Principal) (*accessOutcome, error) {
	if !doc.IsActive {
		return nil, apperr.Validation("document is revoked")
	}

	addr, ok := canonicalTarget(target)
	if !ok {
		return nil, apperr.Validation("malformed target address %q", target)
	}

	if !canRevokeViewer(by, doc, addr) {
		return nil, apperr.Wrap(apperr.ErrAuthorization, errors.New("principal may not revoke access"))
	}

	if err := s.removeViewer(doc, addr); err != nil {
		return nil, err
	}

	return s.mirrorToChain(ctx, doc, func(cctx context.Context, hash [32]byte) (string, error) {
		receipt, err := s.registry.RevokeAccess(cctx, hash, common.HexToAddress(addr))
		if err != nil {
			return "", err
		}
		return receipt.TxHash, nil
	}), nil
}

func (s *Server) transferOwnership(ctx context.Context, doc *models.Document, newOwner string, by *models.Principal) (*accessOutcome, error) {
	if !doc.IsActive {
		return nil, apperr.Validation("document is revoked")
	}

	if !canAccess(by, doc, actionTransfer) {
		return nil, apperr.Wrap(apperr.ErrAuthorization, errors.New("principal may not transfer"))
	}

	addr, ok := canonicalTarget(newOwner)
	if !ok {
		return nil, apperr.Validation("malformed owner address %q", newOwner)
	}

	if err := s.db.Model(&models.Document{}).Where("document_hash = ?", doc.Hash).
		Update("owner", addr).Error; err != nil {
		return nil, err
	}
	doc.Owner = addr

	return s.mirrorToChain(ctx, doc, func(cctx context.Context, hash [32]byte) (string, error) {
		receipt, err := s.registry.TransferOwnership(cctx, hash, common.HexToAddress(addr))
		if err != nil {
			return "", err
		}
		return receipt.TxHash, nil
	}), nil
}

// deactivate soft-deletes a document. The local flag is authoritative;
// the chain-side revocation is best-effort.
func (s *Server) deactivate(ctx context.Context, doc *models.Document, by *models.Principal) (*accessOutcome, error) {
	if !canAccess(by, doc, actionRevoke) {
		return nil, apperr.Wrap(apperr.ErrAuthorization, errors.New("principal may not revoke"))
	}

	if err := s.db.Model(&models.Document{}).Where("document_hash = ?", doc.Hash).Updates(map[string]any{
		"is_active": false,
		"status":    models.StatusRevoked,
	}).Error; err != nil {
		return nil, err
	}
	doc.IsActive = false
	doc.Status = models.StatusRevoked

	return s.mirrorToChain(ctx, doc, func(cctx context.Context, hash [32]byte) (string, error) {
		receipt, err := s.registry.RevokeAccess(cctx, hash, common.HexToAddress(doc.Owner))
		if err != nil {
			return "", err
		}
		return receipt.TxHash, nil
	}), nil
}

func (s *Server) mirrorToChain(ctx context.Context, doc *models.Document, call func(context.Context, [32]byte) (string, error)) *accessOutcome {
	out := &accessOutcome{Committed: true}

	hashBytes, err := envelope.HashToBytes(doc.Hash)
	if err != nil {
		out.ChainWarning = "chain mirror skipped: " + err.Error()
		return out
	}

	cctx, cancel := context.WithTimeout(ctx, s.config.ChainTimeout)
	defer cancel()

	txHash, err := call(cctx, hashBytes)
	if err != nil {
		partial := &apperr.PartialSuccess{ChainErr: err}
		s.logger.Warn("chain mirror failed", "hash", doc.Hash, "error", partial)
		out.ChainWarning = "chain mirror failed; pending reconciliation"
		return out
	}

	out.ChainMirror = true
	out.ChainTxHash = &txHash
	return out
}

func canonicalTarget(target string) (string, bool) {
	return helpers.CanonicalAddress(strings.TrimSpace(target))
}
