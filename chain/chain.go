// Package chain wraps the on-chain credential registry and access
// control contracts. A single operator key signs every mutation; writes
// funnel through one lane so nonces stay linear, reads go straight out.
package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Receipt is the confirmed outcome of a mutating call.
type Receipt struct {
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
	GasUsed     uint64 `json:"gasUsed"`
}

// Document is the registry's on-chain view of a credential.
type Document struct {
	IsValid   bool
	Issuer    common.Address
	Owner     common.Address
	Cid       string
	Timestamp time.Time
	IsActive  bool
}

type NetworkInfo struct {
	ChainID     *big.Int `json:"chainId"`
	BlockNumber uint64   `json:"blockNumber"`
	GasPrice    *big.Int `json:"gasPrice"`
}

// Registry is the surface the rest of the service consumes. The concrete
// client implements it over JSON-RPC; tests substitute a mock.
type Registry interface {
	RegisterDocument(ctx context.Context, hash [32]byte, cid string, owner common.Address, metaJson string) (*Receipt, error)
	VerifyDocument(ctx context.Context, hash [32]byte) (*Document, error)
	TransferOwnership(ctx context.Context, hash [32]byte, newOwner common.Address) (*Receipt, error)
	GrantAccess(ctx context.Context, hash [32]byte, viewer common.Address) (*Receipt, error)
	RevokeAccess(ctx context.Context, hash [32]byte, viewer common.Address) (*Receipt, error)
	AssignRole(ctx context.Context, addr common.Address, role uint8) (*Receipt, error)
	GetUserRole(ctx context.Context, addr common.Address) (uint8, error)

	BlockNumber(ctx context.Context) (uint64, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	NetworkInfo(ctx context.Context) (*NetworkInfo, error)
	Health(ctx context.Context) error
}

// GasPolicy controls fee behavior for mutating calls.
type GasPolicy struct {
	// BufferFactor scales the gas estimate into the gas limit.
	BufferFactor float64
	// MinGwei and MaxGwei clamp the suggested gas price.
	MinGwei int64
	MaxGwei int64
	// RetryAttempts bounds resubmission of retryable failures.
	RetryAttempts int
	// RetryPriceMultiplier escalates the gas price on each retry so the
	// replacement displaces the prior pending tx.
	RetryPriceMultiplier float64
}

func DefaultGasPolicy() GasPolicy {
	return GasPolicy{
		BufferFactor:         1.2,
		MinGwei:              1,
		MaxGwei:              50,
		RetryAttempts:        3,
		RetryPriceMultiplier: 1.1,
	}
}
