package ipfs

import (
	"context"
	"sync"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/vellumd/vellum/internal/apperr"
)

// MemoryProvider keeps payloads in process memory, addressing them by a
// real CIDv1. Used in tests and local development.
type MemoryProvider struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		blobs: map[string][]byte{},
	}
}

func (p *MemoryProvider) Name() string {
	return "memory"
}

func (p *MemoryProvider) Add(ctx context.Context, data []byte, filename string, contentType string) (string, error) {
	c, err := cid.NewPrefixV1(cid.Raw, multihash.SHA2_256).Sum(data)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.blobs[c.String()] = append([]byte(nil), data...)
	p.mu.Unlock()

	return c.String(), nil
}

func (p *MemoryProvider) Cat(ctx context.Context, cidstr string) ([]byte, error) {
	p.mu.RLock()
	data, ok := p.blobs[cidstr]
	p.mu.RUnlock()

	if !ok {
		return nil, apperr.Wrap(apperr.ErrNotFound, nil)
	}

	return append([]byte(nil), data...), nil
}

func (p *MemoryProvider) Health(ctx context.Context) error {
	return nil
}
