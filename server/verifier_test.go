package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vellumd/vellum/envelope"
	"github.com/vellumd/vellum/internal/apperr"
	"github.com/vellumd/vellum/models"
)

func logsFor(t *testing.T, s *Server, hash string) []models.VerificationLog {
	t.Helper()

	var logs []models.VerificationLog
	require.NoError(t, s.db.Where("document_hash = ?", hash).Order("created_at ASC, id").Find(&logs).Error)
	return logs
}

func TestVerifyAuthenticByHash(t *testing.T) {
	s, _ := newTestServer(t)
	doc := mustIssue(t, s, []byte("PDF-plaintext-1"))

	resp, err := s.verify(context.Background(), &verifyRequest{
		hash: doc.Hash,
		ip:   "198.51.100.7",
	})
	require.NoError(t, err)

	assert.Equal(t, models.ResultAuthentic, resp.Result)
	assert.Equal(t, models.MethodHash, resp.Method)
	require.NotNil(t, resp.ChainConfirmed)
	assert.True(t, *resp.ChainConfirmed)

	logs := logsFor(t, s, doc.Hash)
	require.Len(t, logs, 1)
	assert.Equal(t, anonymousVerifier, logs[0].Verifier)
	assert.Equal(t, "198.51.100.7", logs[0].VerifierIP)
	assert.Equal(t, models.ResultAuthentic, logs[0].Result)

	stored, err := s.getDocumentByHash(doc.Hash)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.VerificationCount)
	assert.NotNil(t, stored.LastVerifiedAt)
}

func TestVerifyByUploadRecomputesHash(t *testing.T) {
	s, _ := newTestServer(t)
	raw := []byte("orig")
	doc := mustIssue(t, s, raw)

	resp, err := s.verify(context.Background(), &verifyRequest{raw: raw})
	require.NoError(t, err)

	assert.Equal(t, models.ResultAuthentic, resp.Result)
	assert.Equal(t, models.MethodUpload, resp.Method)
	assert.Equal(t, doc.Hash, resp.Hash)
}

func TestVerifyTamperedUpload(t *testing.T) {
	s, _ := newTestServer(t)
	raw := []byte("orig")
	doc := mustIssue(t, s, raw)

	// supplied hash belongs to the original; bytes are tampered
	resp, err := s.verify(context.Background(), &verifyRequest{
		hash: doc.Hash,
		raw:  []byte("orig-tampered"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.ResultTampered, resp.Result)

	logs := logsFor(t, s, doc.Hash)
	require.Len(t, logs, 1)
	assert.Equal(t, models.ResultTampered, logs[0].Result)

	// tampered attempts never bump the verification counter
	stored, err := s.getDocumentByHash(doc.Hash)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.VerificationCount)
}

func TestVerifyMismatchedCidWithUpload(t *testing.T) {
	s, _ := newTestServer(t)
	raw := []byte("with qr")
	mustIssue(t, s, raw)

	resp, err := s.verify(context.Background(), &verifyRequest{
		raw: raw,
		cid: "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ResultTampered, resp.Result)
	assert.Equal(t, models.MethodUpload, resp.Method)
}

func TestVerifyByHashIgnoresStrayCid(t *testing.T) {
	s, _ := newTestServer(t)
	doc := mustIssue(t, s, []byte("with qr"))

	// a well-formed but wrong cid beside a bare hash lookup says
	// nothing about the stored content
	resp, err := s.verify(context.Background(), &verifyRequest{
		hash: doc.Hash,
		cid:  "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ResultAuthentic, resp.Result)
	assert.Equal(t, models.MethodQr, resp.Method)
	assert.Empty(t, resp.Warning)
}

func TestVerifyRejectsMalformedCid(t *testing.T) {
	s, _ := newTestServer(t)
	doc := mustIssue(t, s, []byte("with qr"))

	_, err := s.verify(context.Background(), &verifyRequest{
		hash: doc.Hash,
		cid:  "not-a-cid",
	})
	require.ErrorIs(t, err, apperr.ErrValidation)

	// input errors are not verification outcomes: no audit entry
	assert.Empty(t, logsFor(t, s, doc.Hash))
}

func TestVerifyNotFound(t *testing.T) {
	s, _ := newTestServer(t)

	hash := envelope.ContentHash([]byte("never registered"))
	resp, err := s.verify(context.Background(), &verifyRequest{hash: hash})
	require.NoError(t, err)

	assert.Equal(t, models.ResultNotFound, resp.Result)
	assert.Equal(t, hash, resp.Hash)
	assert.Nil(t, resp.Document)

	logs := logsFor(t, s, hash)
	require.Len(t, logs, 1)
	assert.Equal(t, models.ResultNotFound, logs[0].Result)
}

func TestVerifyChainUnreachableDegrades(t *testing.T) {
	s, reg := newTestServer(t)
	doc := mustIssue(t, s, []byte("doc"))

	reg.failReads = true

	resp, err := s.verify(context.Background(), &verifyRequest{hash: doc.Hash})
	require.NoError(t, err)

	// chain down is a degradation, never "tampered"
	assert.Equal(t, models.ResultAuthentic, resp.Result)
	assert.Nil(t, resp.ChainConfirmed)
}

func TestVerifyPendingChainCommit(t *testing.T) {
	s, reg := newTestServer(t)
	reg.failWrites = true

	result, err := s.issue(context.Background(), &issueRequest{
		raw:      []byte("doc"),
		filename: "doc.pdf",
		mimeType: "application/pdf",
		metadata: testMetadata(),
		owner:    addrOwner,
		issuer:   testPrincipal(models.RoleIssuer, addrIssuer),
	})
	require.NoError(t, err)
	require.True(t, result.chainPending)

	resp, err := s.verify(context.Background(), &verifyRequest{hash: result.doc.Hash})
	require.NoError(t, err)

	// locally known, not chain-confirmed: authentic with confirmed=false
	assert.Equal(t, models.ResultAuthentic, resp.Result)
	require.NotNil(t, resp.ChainConfirmed)
	assert.False(t, *resp.ChainConfirmed)
}

func TestVerifyRevokedDocument(t *testing.T) {
	s, _ := newTestServer(t)
	doc := mustIssue(t, s, []byte("revoked doc"))

	_, err := s.deactivate(context.Background(), doc, testPrincipal(models.RoleAdmin, addrAdmin))
	require.NoError(t, err)

	resp, err := s.verify(context.Background(), &verifyRequest{hash: doc.Hash})
	require.NoError(t, err)
	assert.Equal(t, models.ResultRevoked, resp.Result)

	// revoked verifications are still logged as completed
	var logs []models.VerificationLog
	require.NoError(t, s.db.Where("document_hash = ? AND result = ?", doc.Hash, models.ResultRevoked).Find(&logs).Error)
	assert.Len(t, logs, 1)
}

func TestVerifyLoggedPrincipal(t *testing.T) {
	s, _ := newTestServer(t)
	doc := mustIssue(t, s, []byte("by principal"))

	_, err := s.verify(context.Background(), &verifyRequest{
		hash:     doc.Hash,
		verifier: addrVerifier,
		ip:       "203.0.113.5",
	})
	require.NoError(t, err)

	logs := logsFor(t, s, doc.Hash)
	require.Len(t, logs, 1)
	assert.Equal(t, addrVerifier, logs[0].Verifier)
}

func TestVerifyAuditOrderAndIsolation(t *testing.T) {
	s, _ := newTestServer(t)
	doc1 := mustIssue(t, s, []byte("doc one"))
	doc2 := mustIssue(t, s, []byte("doc two"))

	for i := 0; i < 3; i++ {
		_, err := s.verify(context.Background(), &verifyRequest{hash: doc1.Hash})
		require.NoError(t, err)
	}
	_, err := s.verify(context.Background(), &verifyRequest{hash: doc2.Hash})
	require.NoError(t, err)

	logs1 := logsFor(t, s, doc1.Hash)
	require.Len(t, logs1, 3)
	for i := 1; i < len(logs1); i++ {
		assert.False(t, logs1[i].CreatedAt.Before(logs1[i-1].CreatedAt))
	}

	assert.Len(t, logsFor(t, s, doc2.Hash), 1)
}

func TestDocumentStats(t *testing.T) {
	s, _ := newTestServer(t)
	doc := mustIssue(t, s, []byte("stats doc"))

	for i := 0; i < 2; i++ {
		_, err := s.verify(context.Background(), &verifyRequest{hash: doc.Hash})
		require.NoError(t, err)
	}

	stored, err := s.getDocumentByHash(doc.Hash)
	require.NoError(t, err)

	stats, err := s.documentStats(stored)
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats.TotalVerifications)
	assert.Equal(t, int64(2), stats.ByResult[string(models.ResultAuthentic)])
	assert.NotNil(t, stats.LastVerifiedAt)
}
