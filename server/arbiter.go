package server

import (
	"sync"

	"github.com/vellumd/vellum/models"
)

type action string

const (
	actionView     action = "view"
	actionDownload action = "download"
	actionTransfer action = "transfer"
	actionRevoke   action = "revoke"
)

// canAccess decides whether p may perform act on doc. The arbiter works
// entirely off DB-resident state; it never consults the chain.
func canAccess(p *models.Principal, doc *models.Document, act action) bool {
	if p == nil {
		return false
	}

	if p.Role == models.RoleAdmin {
		return true
	}

	isOwnerOrIssuer := p.Address == doc.Owner || p.Address == doc.Issuer

	switch act {
	case actionView, actionDownload:
		return isOwnerOrIssuer || doc.HasViewer(p.Address)
	case actionTransfer, actionRevoke:
		return isOwnerOrIssuer
	default:
		return false
	}
}

// canRevokeViewer additionally guards the target: the owner and issuer
// entries cannot be revoked out of the effective viewer set.
func canRevokeViewer(p *models.Principal, doc *models.Document, target string) bool {
	if p != nil && p.Role == models.RoleAdmin {
		return true
	}

	if !canAccess(p, doc, actionRevoke) {
		return false
	}

	return target != doc.Owner && target != doc.Issuer
}

// canAccessOwnerListing gates listing another owner's documents.
func canAccessOwnerListing(p *models.Principal) bool {
	return p != nil && p.Role == models.RoleAdmin
}

// hashLocks hands out the short-lived in-flight claim for a document
// hash. At most one pipeline may run per hash; losers get a channel
// that closes when the holder releases.
type hashLocks struct {
	mu sync.Mutex
	m  map[string]chan struct{}
}

func newHashLocks() *hashLocks {
	return &hashLocks{m: map[string]chan struct{}{}}
}

func (h *hashLocks) acquire(hash string) (bool, <-chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if held, ok := h.m[hash]; ok {
		return false, held
	}
	h.m[hash] = make(chan struct{})
	return true, nil
}

func (h *hashLocks) release(hash string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if held, ok := h.m[hash]; ok {
		close(held)
		delete(h.m, hash)
	}
}
