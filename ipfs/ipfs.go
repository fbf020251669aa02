// Package ipfs is the client for the content-addressed store holding
// encrypted document payloads. One or more providers may be configured;
// uploads fall back across them in order and the first CID wins.
package ipfs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/vellumd/vellum/internal/apperr"
)

// Provider is one content store backend.
type Provider interface {
	Name() string
	Add(ctx context.Context, data []byte, filename string, contentType string) (string, error)
	Cat(ctx context.Context, cid string) ([]byte, error)
	Health(ctx context.Context) error
}

type ProviderHealth struct {
	Provider  string        `json:"provider"`
	Available bool          `json:"available"`
	Rtt       time.Duration `json:"rtt"`
}

type Client struct {
	providers []Provider
	logger    *slog.Logger
	uploads   chan struct{}
}

type ClientArgs struct {
	Providers []Provider
	Logger    *slog.Logger
	// MaxConcurrentUploads bounds in-flight uploads process-wide.
	MaxConcurrentUploads int
}

func NewClient(args *ClientArgs) (*Client, error) {
	if len(args.Providers) == 0 {
		return nil, errors.New("ipfs: at least one provider must be configured")
	}

	if args.Logger == nil {
		args.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))
	}

	if args.MaxConcurrentUploads <= 0 {
		args.MaxConcurrentUploads = 8
	}

	return &Client{
		providers: args.Providers,
		logger:    args.Logger,
		uploads:   make(chan struct{}, args.MaxConcurrentUploads),
	}, nil
}

// ValidCid reports whether s parses as a known CID shape. Anything the
// service persists must pass this first.
func ValidCid(s string) bool {
	_, err := cid.Decode(s)
	return err == nil
}

// Upload stores data and returns the assigned CID plus the name of the
// provider that accepted it. Providers are tried in configured order;
// a permanent failure from one still falls through to the next.
func (c *Client) Upload(ctx context.Context, data []byte, filename string, contentType string) (string, string, error) {
	select {
	case c.uploads <- struct{}{}:
		defer func() { <-c.uploads }()
	case <-ctx.Done():
		return "", "", apperr.Wrap(apperr.ErrTransient, ctx.Err())
	}

	var lastErr error
	for _, p := range c.providers {
		id, err := p.Add(ctx, data, filename, contentType)
		if err != nil {
			c.logger.Warn("content store upload failed", "provider", p.Name(), "error", err)
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		if !ValidCid(id) {
			lastErr = fmt.Errorf("provider %s returned malformed cid %q", p.Name(), id)
			continue
		}

		return id, p.Name(), nil
	}

	return "", "", fmt.Errorf("ipfs: upload failed on all providers: %w", lastErr)
}

// Retrieve fetches the payload for cidstr, trying providers in order.
// Idempotent.
func (c *Client) Retrieve(ctx context.Context, cidstr string) ([]byte, error) {
	if !ValidCid(cidstr) {
		return nil, apperr.Validation("malformed cid %q", cidstr)
	}

	var lastErr error
	for _, p := range c.providers {
		data, err := p.Cat(ctx, cidstr)
		if err != nil {
			c.logger.Warn("content store retrieve failed", "provider", p.Name(), "cid", cidstr, "error", err)
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		return data, nil
	}

	return nil, fmt.Errorf("ipfs: retrieve failed on all providers: %w", lastErr)
}

// HealthCheck probes every provider and reports availability with
// round-trip time.
func (c *Client) HealthCheck(ctx context.Context) []ProviderHealth {
	out := make([]ProviderHealth, 0, len(c.providers))
	for _, p := range c.providers {
		start := time.Now()
		err := p.Health(ctx)
		out = append(out, ProviderHealth{
			Provider:  p.Name(),
			Available: err == nil,
			Rtt:       time.Since(start),
		})
	}
	return out
}
