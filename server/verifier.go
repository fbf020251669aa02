package server

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vellumd/vellum/chain"
	"github.com/vellumd/vellum/envelope"
	"github.com/vellumd/vellum/internal/apperr"
	"github.com/vellumd/vellum/ipfs"
	"github.com/vellumd/vellum/models"
)

const anonymousVerifier = "anonymous"

type verifyRequest struct {
	// hash is the claimed document hash, if supplied.
	hash string
	// raw is the uploaded file, if supplied. At least one of hash and
	// raw must be present.
	raw []byte
	// cid from a QR payload. Optional.
	cid string

	verifier  string
	ip        string
	userAgent string
}

type verifyResponse struct {
	Result         models.VerificationResult `json:"result"`
	Hash           string                    `json:"hash"`
	ChainConfirmed *bool                     `json:"chainConfirmed"`
	Method         models.VerificationMethod `json:"method"`
	Document       *documentView             `json:"document,omitempty"`
	Warning        string                    `json:"warning,omitempty"`
}

// verify implements the inverse of the pipeline: recompute the hash when
// raw bytes are supplied, look the record up locally, cross-check the
// chain, and append exactly one audit entry. Chain unreachability never
// downgrades a local result to tampered.
func (s *Server) verify(ctx context.Context, req *verifyRequest) (*verifyResponse, error) {
	method := models.MethodHash
	hash := req.hash

	if req.cid != "" && !ipfs.ValidCid(req.cid) {
		return nil, apperr.Validation("malformed cid %q", req.cid)
	}

	if req.raw != nil {
		method = models.MethodUpload
		computed := envelope.ContentHash(req.raw)
		if hash == "" {
			hash = computed
		} else if hash != computed {
			// the supplied hash does not match the supplied bytes
			return s.finishVerification(req, nil, method, models.ResultTampered, nil)
		}
	} else if req.cid != "" {
		method = models.MethodQr
	}

	if req.verifier == "" {
		req.verifier = anonymousVerifier
	}

	doc, err := s.getDocumentByHash(hash)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			resp, ferr := s.finishVerification(req, nil, method, models.ResultNotFound, nil)
			if resp != nil {
				resp.Hash = hash
			}
			return resp, ferr
		}
		return nil, err
	}

	// the cid cross-check only indicts the content when the caller
	// actually supplied content; a stray cid beside a bare hash lookup
	// says nothing about the stored document
	if req.raw != nil && req.cid != "" && req.cid != doc.Cid {
		return s.finishVerification(req, doc, method, models.ResultTampered, nil)
	}

	chainConfirmed := s.chainConfirmation(ctx, doc)

	if !doc.IsActive {
		return s.finishVerification(req, doc, method, models.ResultRevoked, chainConfirmed)
	}

	return s.finishVerification(req, doc, method, models.ResultAuthentic, chainConfirmed)
}

// chainConfirmation asks the registry about the document. Three-valued:
// true/false when the chain answered, nil when it was unreachable.
func (s *Server) chainConfirmation(ctx context.Context, doc *models.Document) *bool {
	cctx, cancel := context.WithTimeout(ctx, s.config.ChainTimeout)
	defer cancel()

	hashBytes, err := envelope.HashToBytes(doc.Hash)
	if err != nil {
		return nil
	}

	onchain, err := s.registry.VerifyDocument(cctx, hashBytes)
	if err != nil {
		if errors.Is(err, chain.ErrDocumentNotFound) {
			confirmed := false
			return &confirmed
		}

		s.logger.Warn("chain lookup degraded", "hash", doc.Hash, "error", err)
		return nil
	}

	confirmed := onchain.IsValid && onchain.Cid == doc.Cid
	return &confirmed
}

func (s *Server) finishVerification(req *verifyRequest, doc *models.Document, method models.VerificationMethod, result models.VerificationResult, chainConfirmed *bool) (*verifyResponse, error) {
	entry := &models.VerificationLog{
		ID:             uuid.NewString(),
		Verifier:       req.verifier,
		VerifierIP:     req.ip,
		Method:         method,
		Result:         result,
		ChainConfirmed: chainConfirmed,
		UserAgent:      req.userAgent,
		CreatedAt:      time.Now().UTC(),
	}
	if doc != nil {
		entry.DocumentHash = doc.Hash
	} else if req.hash != "" {
		entry.DocumentHash = req.hash
	}

	if err := s.recordVerification(doc, entry); err != nil {
		s.logger.Error("error recording verification", "hash", entry.DocumentHash, "error", err)
		return nil, err
	}

	resp := &verifyResponse{
		Result:         result,
		Hash:           entry.DocumentHash,
		ChainConfirmed: chainConfirmed,
		Method:         method,
	}

	if doc != nil {
		resp.Document = newDocumentView(doc)
	}

	if result != models.ResultAuthentic && result != models.ResultRevoked {
		if s.suspicion.record(req.ip) {
			s.logger.Warn("suspicious verification activity", "ip", req.ip, "hash", entry.DocumentHash)
			resp.Warning = "suspicious_activity"
		}
	}

	return resp, nil
}
