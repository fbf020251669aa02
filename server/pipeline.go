package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"

	"github.com/vellumd/vellum/envelope"
	"github.com/vellumd/vellum/internal/apperr"
	"github.com/vellumd/vellum/internal/helpers"
	"github.com/vellumd/vellum/models"
)

type DocumentMetadata struct {
	StudentName     string `json:"studentName" validate:"required"`
	StudentID       string `json:"studentId" validate:"required"`
	InstitutionName string `json:"institutionName" validate:"required"`
	DocumentType    string `json:"documentType" validate:"required,doc-type"`
	IssueDate       string `json:"issueDate"`
	Description     string `json:"description"`
}

type issueRequest struct {
	raw      []byte
	filename string
	mimeType string
	metadata DocumentMetadata
	owner    string
	issuer   *models.Principal
}

type issueResult struct {
	doc          *models.Document
	chainPending bool
	existing     bool
}

// issue runs the document pipeline: validate, hash, encrypt, wrap,
// upload, insert, chain commit. Content upload precedes the DB insert so
// the record always carries a valid CID; the DB insert precedes the
// chain commit so any on-chain observer can resolve to a record. A
// failed chain commit leaves the record at status=stored for the
// reconciler to re-offer.
func (s *Server) issue(ctx context.Context, req *issueRequest) (*issueResult, error) {
	if len(req.raw) == 0 {
		return nil, apperr.Validation("empty file")
	}

	if int64(len(req.raw)) > s.config.MaxUploadBytes {
		return nil, apperr.Validation("file exceeds %d bytes", s.config.MaxUploadBytes)
	}

	if !models.ValidDocumentType(req.metadata.DocumentType) {
		return nil, apperr.Validation("unknown document type %q", req.metadata.DocumentType)
	}

	if req.issuer == nil || !req.issuer.HasPermission(models.PermIssue) {
		return nil, apperr.Wrap(apperr.ErrAuthorization, errors.New("principal may not issue"))
	}

	owner, ok := helpers.CanonicalAddress(req.owner)
	if !ok {
		return nil, apperr.Validation("malformed owner address %q", req.owner)
	}

	hash := envelope.ContentHash(req.raw)

	if existing, err := s.getDocumentByHash(hash); err == nil {
		return &issueResult{doc: existing, existing: true}, apperr.ErrDuplicate
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	ok, held := s.inflight.acquire(hash)
	if !ok {
		// a pipeline for this exact content is already running; wait it
		// out and report its record as the duplicate
		select {
		case <-held:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if existing, err := s.getDocumentByHash(hash); err == nil {
			return &issueResult{doc: existing, existing: true}, apperr.ErrDuplicate
		}
		return nil, apperr.ErrDuplicate
	}
	defer s.inflight.release(hash)

	// past this point the pipeline runs to completion even if the
	// client disconnects; only the supervisor timeout can stop it
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.PipelineTimeout)
	defer cancel()

	sealed, err := envelope.Encrypt(req.raw)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrFatal, err)
	}

	wrapped, err := s.masterKey.Wrap(sealed.Key)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrFatal, err)
	}
	for i := range sealed.Key {
		sealed.Key[i] = 0
	}

	cid, provider, err := s.store.Upload(pctx, sealed.Payload(), helpers.SanitizeFilename(req.filename)+".enc", "application/octet-stream")
	if err != nil {
		if apperr.Retryable(err) {
			return nil, apperr.Wrap(apperr.ErrUnavailable, err)
		}
		return nil, err
	}

	doc := &models.Document{
		Hash:            hash,
		Cid:             cid,
		Provider:        provider,
		WrappedKey:      wrapped,
		StudentName:     req.metadata.StudentName,
		StudentID:       req.metadata.StudentID,
		InstitutionName: req.metadata.InstitutionName,
		DocumentType:    req.metadata.DocumentType,
		IssueDate:       req.metadata.IssueDate,
		Description:     req.metadata.Description,
		Filename:        helpers.SanitizeFilename(req.filename),
		MimeType:        req.mimeType,
		Size:            int64(len(req.raw)),
		Owner:           owner,
		Issuer:          req.issuer.Address,
		UploadedBy:      req.issuer.Address,
		CreatedAt:       time.Now().UTC(),
		Status:          models.StatusStored,
		IsActive:        true,
	}

	if err := s.db.Create(doc).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint") {
			if existing, lerr := s.getDocumentByHash(hash); lerr == nil {
				return &issueResult{doc: existing, existing: true}, apperr.ErrDuplicate
			}
		}
		return nil, err
	}

	if err := s.commitToChain(pctx, doc); err != nil {
		s.logger.Warn("chain commit failed, document left pending", "hash", hash, "error", err)
		return &issueResult{doc: doc, chainPending: true}, nil
	}

	return &issueResult{doc: doc}, nil
}

// commitToChain registers an already-stored document on-chain and
// records the receipt. Safe to re-run for documents at status=stored.
func (s *Server) commitToChain(ctx context.Context, doc *models.Document) error {
	hashBytes, err := envelope.HashToBytes(doc.Hash)
	if err != nil {
		return err
	}

	metaJson, err := json.Marshal(DocumentMetadata{
		StudentName:     doc.StudentName,
		StudentID:       doc.StudentID,
		InstitutionName: doc.InstitutionName,
		DocumentType:    doc.DocumentType,
		IssueDate:       doc.IssueDate,
		Description:     doc.Description,
	})
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, s.config.ChainTimeout)
	defer cancel()

	receipt, err := s.registry.RegisterDocument(cctx, hashBytes, doc.Cid, common.HexToAddress(doc.Owner), string(metaJson))
	if err != nil {
		return err
	}

	if err := s.updateBlockchainFields(doc.Hash, receipt.TxHash, receipt.BlockNumber, receipt.GasUsed); err != nil {
		// the chain side is committed; the reconciler heals the record
		s.logger.Error("error recording chain receipt", "hash", doc.Hash, "tx", receipt.TxHash, "error", err)
		return err
	}

	doc.TxHash = &receipt.TxHash
	doc.BlockNumber = &receipt.BlockNumber
	doc.GasUsed = &receipt.GasUsed
	doc.Status = models.StatusBlockchainStored

	return nil
}
