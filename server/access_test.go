package server

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vellumd/vellum/internal/apperr"
	"github.com/vellumd/vellum/models"
)

func TestGrantAccessByOwner(t *testing.T) {
	s, reg := newTestServer(t)
	doc := mustIssue(t, s, []byte("grant me"))

	out, err := s.grantAccess(context.Background(), doc, addrVerifier, testPrincipal(models.RoleStudent, addrOwner))
	require.NoError(t, err)

	assert.True(t, out.Committed)
	assert.True(t, out.ChainMirror)
	require.NotNil(t, out.ChainTxHash)
	assert.Equal(t, 1, reg.grantCalls)

	stored, err := s.getDocumentByHash(doc.Hash)
	require.NoError(t, err)
	assert.True(t, stored.HasViewer(addrVerifier))
}

func TestGrantAccessChainDownIsPartial(t *testing.T) {
	s, reg := newTestServer(t)
	doc := mustIssue(t, s, []byte("partial grant"))

	reg.failWrites = true

	out, err := s.grantAccess(context.Background(), doc, addrVerifier, testPrincipal(models.RoleStudent, addrOwner))
	require.NoError(t, err)

	// DB side committed, chain side pending
	assert.True(t, out.Committed)
	assert.False(t, out.ChainMirror)
	assert.NotEmpty(t, out.ChainWarning)

	stored, err := s.getDocumentByHash(doc.Hash)
	require.NoError(t, err)
	assert.True(t, stored.HasViewer(addrVerifier))
}

func TestGrantAccessDeniedForViewer(t *testing.T) {
	s, _ := newTestServer(t)
	doc := mustIssue(t, s, []byte("no regrant"))

	_, err := s.grantAccess(context.Background(), doc, addrVerifier, testPrincipal(models.RoleStudent, addrOwner))
	require.NoError(t, err)

	// a granted viewer cannot grant further access
	_, err = s.grantAccess(context.Background(), doc, addrOther, testPrincipal(models.RoleVerifier, addrVerifier))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrAuthorization))
}

func TestGrantAccessRejectsMalformedAddress(t *testing.T) {
	s, _ := newTestServer(t)
	doc := mustIssue(t, s, []byte("bad addr"))

	_, err := s.grantAccess(context.Background(), doc, "0xZZ", testPrincipal(models.RoleStudent, addrOwner))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestRevokeAccess(t *testing.T) {
	s, reg := newTestServer(t)
	doc := mustIssue(t, s, []byte("revoke viewer"))
	owner := testPrincipal(models.RoleStudent, addrOwner)

	_, err := s.grantAccess(context.Background(), doc, addrVerifier, owner)
	require.NoError(t, err)

	out, err := s.revokeAccess(context.Background(), doc, addrVerifier, owner)
	require.NoError(t, err)
	assert.True(t, out.Committed)
	assert.Equal(t, 1, reg.revokeCalls)

	stored, err := s.getDocumentByHash(doc.Hash)
	require.NoError(t, err)
	assert.False(t, stored.HasViewer(addrVerifier))
}

func TestRevokeAccessNeverRemovesOwnerOrIssuer(t *testing.T) {
	s, _ := newTestServer(t)
	doc := mustIssue(t, s, []byte("irrevocable"))
	owner := testPrincipal(models.RoleStudent, addrOwner)

	for _, target := range []string{addrOwner, addrIssuer} {
		_, err := s.revokeAccess(context.Background(), doc, target, owner)
		require.Error(t, err, "target %s", target)
	}

	stored, err := s.getDocumentByHash(doc.Hash)
	require.NoError(t, err)
	assert.True(t, stored.HasViewer(addrOwner))
	assert.True(t, stored.HasViewer(addrIssuer))
}

func TestTransferOwnership(t *testing.T) {
	s, reg := newTestServer(t)
	doc := mustIssue(t, s, []byte("transfer me"))

	out, err := s.transferOwnership(context.Background(), doc, addrOther, testPrincipal(models.RoleStudent, addrOwner))
	require.NoError(t, err)
	assert.True(t, out.Committed)
	assert.Equal(t, 1, reg.transferCalls)

	stored, err := s.getDocumentByHash(doc.Hash)
	require.NoError(t, err)
	assert.Equal(t, addrOther, stored.Owner)

	// previous owner lost implicit access
	assert.False(t, canAccess(testPrincipal(models.RoleStudent, addrOwner), stored, actionTransfer))
	assert.True(t, canAccess(testPrincipal(models.RoleStudent, addrOther), stored, actionDownload))
}

func TestTransferDeniedForNonOwner(t *testing.T) {
	s, _ := newTestServer(t)
	doc := mustIssue(t, s, []byte("not yours"))

	_, err := s.transferOwnership(context.Background(), doc, addrOther, testPrincipal(models.RoleStudent, addrOther))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrAuthorization))
}

func TestMutationsRejectedOnRevokedDocument(t *testing.T) {
	s, _ := newTestServer(t)
	doc := mustIssue(t, s, []byte("frozen"))
	owner := testPrincipal(models.RoleStudent, addrOwner)

	_, err := s.deactivate(context.Background(), doc, owner)
	require.NoError(t, err)

	_, err = s.grantAccess(context.Background(), doc, addrVerifier, owner)
	require.Error(t, err)
	_, err = s.transferOwnership(context.Background(), doc, addrOther, owner)
	require.Error(t, err)
	_, err = s.revokeAccess(context.Background(), doc, addrVerifier, owner)
	require.Error(t, err)
}

func TestDeactivateIsLocallyAuthoritative(t *testing.T) {
	s, reg := newTestServer(t)
	doc := mustIssue(t, s, []byte("deactivate"))

	// even with the chain down, revocation takes effect locally
	reg.failWrites = true

	out, err := s.deactivate(context.Background(), doc, testPrincipal(models.RoleStudent, addrOwner))
	require.NoError(t, err)
	assert.True(t, out.Committed)
	assert.False(t, out.ChainMirror)

	stored, err := s.getDocumentByHash(doc.Hash)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.Equal(t, models.StatusRevoked, stored.Status)
}

func TestIssuerCanDeactivate(t *testing.T) {
	s, _ := newTestServer(t)
	doc := mustIssue(t, s, []byte("issuer revokes"))

	_, err := s.deactivate(context.Background(), doc, testPrincipal(models.RoleIssuer, addrIssuer))
	require.NoError(t, err)

	stored, err := s.getDocumentByHash(doc.Hash)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
}
