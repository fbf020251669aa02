package ipfs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingProvider struct {
	name string
	err  error
}

func (p *failingProvider) Name() string { return p.name }
func (p *failingProvider) Add(ctx context.Context, data []byte, filename, contentType string) (string, error) {
	return "", p.err
}
func (p *failingProvider) Cat(ctx context.Context, cid string) ([]byte, error) {
	return nil, p.err
}
func (p *failingProvider) Health(ctx context.Context) error { return p.err }

func TestUploadRetrieveRoundtrip(t *testing.T) {
	c, err := NewClient(&ClientArgs{Providers: []Provider{NewMemoryProvider()}})
	require.NoError(t, err)

	data := []byte("encrypted payload bytes")
	id, provider, err := c.Upload(context.Background(), data, "doc.pdf.enc", "application/octet-stream")
	require.NoError(t, err)
	assert.Equal(t, "memory", provider)
	assert.True(t, ValidCid(id))

	got, err := c.Retrieve(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestUploadFallsBackAcrossProviders(t *testing.T) {
	boom := errors.New("pin service down")
	c, err := NewClient(&ClientArgs{Providers: []Provider{
		&failingProvider{name: "primary", err: boom},
		NewMemoryProvider(),
	}})
	require.NoError(t, err)

	id, provider, err := c.Upload(context.Background(), []byte("blob"), "f", "application/octet-stream")
	require.NoError(t, err)
	assert.Equal(t, "memory", provider)
	assert.True(t, ValidCid(id))
}

func TestUploadAllProvidersFail(t *testing.T) {
	boom := errors.New("unreachable")
	c, err := NewClient(&ClientArgs{Providers: []Provider{
		&failingProvider{name: "a", err: boom},
		&failingProvider{name: "b", err: boom},
	}})
	require.NoError(t, err)

	_, _, err = c.Upload(context.Background(), []byte("blob"), "f", "application/octet-stream")
	assert.ErrorIs(t, err, boom)
}

func TestRetrieveRejectsMalformedCid(t *testing.T) {
	c, err := NewClient(&ClientArgs{Providers: []Provider{NewMemoryProvider()}})
	require.NoError(t, err)

	_, err = c.Retrieve(context.Background(), "not-a-cid")
	assert.Error(t, err)
}

func TestValidCid(t *testing.T) {
	mem := NewMemoryProvider()
	id, err := mem.Add(context.Background(), []byte("x"), "f", "")
	require.NoError(t, err)

	assert.True(t, ValidCid(id))
	assert.True(t, ValidCid("QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"))
	assert.False(t, ValidCid(""))
	assert.False(t, ValidCid("0x1234"))
	assert.False(t, ValidCid("hello world"))
}

func TestHealthCheckReportsPerProvider(t *testing.T) {
	c, err := NewClient(&ClientArgs{Providers: []Provider{
		NewMemoryProvider(),
		&failingProvider{name: "down", err: errors.New("no route")},
	}})
	require.NoError(t, err)

	hs := c.HealthCheck(context.Background())
	require.Len(t, hs, 2)
	assert.Equal(t, "memory", hs[0].Provider)
	assert.True(t, hs[0].Available)
	assert.Equal(t, "down", hs[1].Provider)
	assert.False(t, hs[1].Available)
}
