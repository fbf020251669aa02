package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vellumd/vellum/envelope"
	"github.com/vellumd/vellum/internal/apperr"
	"github.com/vellumd/vellum/ipfs"
	"github.com/vellumd/vellum/models"
)

func TestIssueHappyPath(t *testing.T) {
	s, reg := newTestServer(t)

	raw := []byte("PDF-plaintext-1")
	doc := mustIssue(t, s, raw)

	assert.Equal(t, envelope.ContentHash(raw), doc.Hash)
	assert.Equal(t, models.StatusBlockchainStored, doc.Status)
	require.NotNil(t, doc.TxHash)
	assert.NotNil(t, doc.BlockNumber)
	assert.NotNil(t, doc.GasUsed)
	assert.True(t, ipfs.ValidCid(doc.Cid))
	assert.Equal(t, addrOwner, doc.Owner)
	assert.Equal(t, addrIssuer, doc.Issuer)
	assert.Equal(t, 1, reg.registerCalls)

	// the persisted record matches
	stored, err := s.getDocumentByHash(doc.Hash)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBlockchainStored, stored.Status)
	require.NotNil(t, stored.TxHash)
	assert.Equal(t, *doc.TxHash, *stored.TxHash)
}

func TestIssueStoredArtifactIsEncrypted(t *testing.T) {
	s, _ := newTestServer(t)

	raw := []byte("very identifiable plaintext contents")
	doc := mustIssue(t, s, raw)

	payload, err := s.store.Retrieve(context.Background(), doc.Cid)
	require.NoError(t, err)
	assert.NotContains(t, string(payload), "identifiable")

	// the wrapped key still opens it
	key, err := s.masterKey.Unwrap(doc.WrappedKey)
	require.NoError(t, err)
	plain, err := envelope.Open(payload, key)
	require.NoError(t, err)
	assert.Equal(t, raw, plain)
}

func TestIssueDuplicate(t *testing.T) {
	s, reg := newTestServer(t)

	raw := []byte("same")
	first := mustIssue(t, s, raw)

	result, err := s.issue(context.Background(), &issueRequest{
		raw:      raw,
		filename: "degree.pdf",
		mimeType: "application/pdf",
		metadata: testMetadata(),
		owner:    addrOwner,
		issuer:   testPrincipal(models.RoleIssuer, addrIssuer),
	})
	assert.ErrorIs(t, err, apperr.ErrDuplicate)
	require.NotNil(t, result)
	require.NotNil(t, result.doc)
	assert.True(t, result.existing)
	assert.Equal(t, first.Hash, result.doc.Hash)

	// exactly one chain transaction was emitted
	assert.Equal(t, 1, reg.registerCalls)

	// the first record is unmodified
	stored, err := s.getDocumentByHash(first.Hash)
	require.NoError(t, err)
	assert.Equal(t, *first.TxHash, *stored.TxHash)
}

func TestIssueChainDownLeavesStored(t *testing.T) {
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
	assert.True(t, result.chainPending)
	assert.Equal(t, models.StatusStored, result.doc.Status)
	assert.Nil(t, result.doc.TxHash)

	// the record is queryable despite the failed commit
	stored, err := s.getDocumentByHash(result.doc.Hash)
	require.NoError(t, err)
	assert.Equal(t, models.StatusStored, stored.Status)
	assert.Nil(t, stored.TxHash)
}

func TestIssueRejectsUnauthorizedIssuer(t *testing.T) {
	s, reg := newTestServer(t)

	for _, role := range []models.Role{models.RoleStudent, models.RoleVerifier} {
		_, err := s.issue(context.Background(), &issueRequest{
			raw:      []byte("x"),
			filename: "x.pdf",
			mimeType: "application/pdf",
			metadata: testMetadata(),
			owner:    addrOwner,
			issuer:   testPrincipal(role, addrOther),
		})
		assert.ErrorIs(t, err, apperr.ErrAuthorization)
	}

	assert.Equal(t, 0, reg.registerCalls)
}

func TestIssueValidation(t *testing.T) {
	s, _ := newTestServer(t)
	issuer := testPrincipal(models.RoleIssuer, addrIssuer)

	// empty file
	_, err := s.issue(context.Background(), &issueRequest{
		metadata: testMetadata(), owner: addrOwner, issuer: issuer,
	})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	// unknown document type
	md := testMetadata()
	md.DocumentType = "passport"
	_, err = s.issue(context.Background(), &issueRequest{
		raw: []byte("x"), metadata: md, owner: addrOwner, issuer: issuer,
	})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	// malformed owner
	_, err = s.issue(context.Background(), &issueRequest{
		raw: []byte("x"), metadata: testMetadata(), owner: "0x123", issuer: issuer,
	})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	// oversize file
	s.config.MaxUploadBytes = 4
	_, err = s.issue(context.Background(), &issueRequest{
		raw: []byte("too big"), metadata: testMetadata(), owner: addrOwner, issuer: issuer,
	})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestIssueAdminBypassesIssuePermission(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.issue(context.Background(), &issueRequest{
		raw:      []byte("admin issued"),
		filename: "a.pdf",
		mimeType: "application/pdf",
		metadata: testMetadata(),
		owner:    addrOwner,
		issuer:   testPrincipal(models.RoleAdmin, addrAdmin),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusBlockchainStored, result.doc.Status)
}

func TestHashLocksSingleFlight(t *testing.T) {
	locks := newHashLocks()

	ok, held := locks.acquire("0xabc")
	assert.True(t, ok)
	assert.Nil(t, held)

	ok, held = locks.acquire("0xabc")
	assert.False(t, ok)
	require.NotNil(t, held)
	select {
	case <-held:
		t.Fatal("claim released early")
	default:
	}

	ok, _ = locks.acquire("0xdef")
	assert.True(t, ok)

	locks.release("0xabc")
	select {
	case <-held:
	default:
		t.Fatal("release did not signal the waiter")
	}

	ok, _ = locks.acquire("0xabc")
	assert.True(t, ok)
}

func TestIssueRacerReturnsWinnersRecord(t *testing.T) {
	s, _ := newTestServer(t)

	raw := []byte("raced content")
	hash := envelope.ContentHash(raw)

	ok, _ := s.inflight.acquire(hash)
	require.True(t, ok)

	type racerResult struct {
		result *issueResult
		err    error
	}
	done := make(chan racerResult, 1)
	go func() {
		result, err := s.issue(context.Background(), &issueRequest{
			raw:      raw,
			filename: "degree.pdf",
			mimeType: "application/pdf",
			metadata: testMetadata(),
			owner:    addrOwner,
			issuer:   testPrincipal(models.RoleIssuer, addrIssuer),
		})
		done <- racerResult{result, err}
	}()

	select {
	case <-done:
		t.Fatal("racer did not wait for the in-flight pipeline")
	case <-time.After(50 * time.Millisecond):
	}

	// the holder finishes: record lands, claim releases
	require.NoError(t, s.db.Create(&models.Document{
		Hash:      hash,
		Cid:       "bafkreigh2akiscaildcqabsyg3dfr6chu3fgpregiymsck7e7aqa4s52zy",
		Provider:  "memory",
		Owner:     addrOwner,
		Issuer:    addrIssuer,
		CreatedAt: time.Now().UTC(),
		Status:    models.StatusStored,
		IsActive:  true,
	}).Error)
	s.inflight.release(hash)

	got := <-done
	assert.ErrorIs(t, got.err, apperr.ErrDuplicate)
	require.NotNil(t, got.result)
	assert.True(t, got.result.existing)
	require.NotNil(t, got.result.doc)
	assert.Equal(t, hash, got.result.doc.Hash)
}
