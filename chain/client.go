package chain

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	gasPriceCacheTTL = 30 * time.Second
	estimateCacheTTL = 5 * time.Minute
)

type Client struct {
	eth          *ethclient.Client
	logger       *slog.Logger
	operator     *ecdsa.PrivateKey
	operatorAddr common.Address
	chainID      *big.Int

	registryAddr common.Address
	accessAddr   common.Address
	registryAbi  abi.ABI
	accessAbi    abi.ABI

	policy        GasPolicy
	confirmations uint64
	writeTimeout  time.Duration

	// writes serialize through this lane so the operator nonce stays
	// linear; reads never take it.
	writeLane chan struct{}

	priceCache    *expirable.LRU[string, *big.Int]
	estimateCache *expirable.LRU[string, uint64]
}

type ClientArgs struct {
	RpcUrl             string
	OperatorPrivateKey string
	RegistryAddress    string
	AccessCtrlAddress  string
	Confirmations      uint64
	WriteTimeout       time.Duration
	Policy             GasPolicy
	Logger             *slog.Logger
}

func NewClient(ctx context.Context, args *ClientArgs) (*Client, error) {
	if args.RpcUrl == "" {
		return nil, errors.New("chain: rpc url must be set")
	}

	if args.OperatorPrivateKey == "" {
		return nil, errors.New("chain: operator private key must be set")
	}

	if !common.IsHexAddress(args.RegistryAddress) {
		return nil, fmt.Errorf("chain: malformed registry address %q", args.RegistryAddress)
	}

	if !common.IsHexAddress(args.AccessCtrlAddress) {
		return nil, fmt.Errorf("chain: malformed access control address %q", args.AccessCtrlAddress)
	}

	if args.Logger == nil {
		args.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))
	}

	if args.Confirmations == 0 {
		args.Confirmations = 1
	}

	if args.WriteTimeout == 0 {
		args.WriteTimeout = 30 * time.Second
	}

	if args.Policy.BufferFactor == 0 {
		args.Policy = DefaultGasPolicy()
	}

	operator, err := crypto.HexToECDSA(strings.TrimPrefix(args.OperatorPrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("chain: error parsing operator key: %w", err)
	}

	eth, err := ethclient.DialContext(ctx, args.RpcUrl)
	if err != nil {
		return nil, fmt.Errorf("chain: error dialing rpc: %w", err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: error fetching chain id: %w", err)
	}

	registryAbi, err := abi.JSON(strings.NewReader(registryAbiJson))
	if err != nil {
		return nil, err
	}

	accessAbi, err := abi.JSON(strings.NewReader(accessControlAbiJson))
	if err != nil {
		return nil, err
	}

	writeLane := make(chan struct{}, 1)
	writeLane <- struct{}{}

	return &Client{
		eth:           eth,
		logger:        args.Logger,
		operator:      operator,
		operatorAddr:  crypto.PubkeyToAddress(operator.PublicKey),
		chainID:       chainID,
		registryAddr:  common.HexToAddress(args.RegistryAddress),
		accessAddr:    common.HexToAddress(args.AccessCtrlAddress),
		registryAbi:   registryAbi,
		accessAbi:     accessAbi,
		policy:        args.Policy,
		confirmations: args.Confirmations,
		writeTimeout:  args.WriteTimeout,
		writeLane:     writeLane,
		priceCache:    expirable.NewLRU[string, *big.Int](4, nil, gasPriceCacheTTL),
		estimateCache: expirable.NewLRU[string, uint64](128, nil, estimateCacheTTL),
	}, nil
}

func (c *Client) OperatorAddress() common.Address {
	return c.operatorAddr
}

func (c *Client) RegisterDocument(ctx context.Context, hash [32]byte, cid string, owner common.Address, metaJson string) (*Receipt, error) {
	data, err := c.registryAbi.Pack("registerDocument", hash, cid, owner, metaJson)
	if err != nil {
		return nil, err
	}
	return c.submit(ctx, c.registryAddr, data)
}

func (c *Client) VerifyDocument(ctx context.Context, hash [32]byte) (*Document, error) {
	data, err := c.registryAbi.Pack("getDocument", hash)
	if err != nil {
		return nil, err
	}

	raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.registryAddr, Data: data}, nil)
	if err != nil {
		return nil, err
	}

	out, err := c.registryAbi.Unpack("getDocument", raw)
	if err != nil {
		return nil, err
	}
	if len(out) != 5 {
		return nil, fmt.Errorf("chain: getDocument returned %d values", len(out))
	}

	issuer := out[0].(common.Address)
	if issuer == (common.Address{}) {
		return nil, ErrDocumentNotFound
	}

	issuedAt := out[3].(*big.Int)

	return &Document{
		IsValid:   true,
		Issuer:    issuer,
		Owner:     out[1].(common.Address),
		Cid:       out[2].(string),
		Timestamp: time.Unix(issuedAt.Int64(), 0).UTC(),
		IsActive:  out[4].(bool),
	}, nil
}

func (c *Client) TransferOwnership(ctx context.Context, hash [32]byte, newOwner common.Address) (*Receipt, error) {
	data, err := c.registryAbi.Pack("transferOwnership", hash, newOwner)
	if err != nil {
		return nil, err
	}
	return c.submit(ctx, c.registryAddr, data)
}

func (c *Client) GrantAccess(ctx context.Context, hash [32]byte, viewer common.Address) (*Receipt, error) {
	data, err := c.registryAbi.Pack("grantAccess", hash, viewer)
	if err != nil {
		return nil, err
	}
	return c.submit(ctx, c.registryAddr, data)
}

func (c *Client) RevokeAccess(ctx context.Context, hash [32]byte, viewer common.Address) (*Receipt, error) {
	data, err := c.registryAbi.Pack("revokeAccess", hash, viewer)
	if err != nil {
		return nil, err
	}
	return c.submit(ctx, c.registryAddr, data)
}

func (c *Client) AssignRole(ctx context.Context, addr common.Address, role uint8) (*Receipt, error) {
	data, err := c.accessAbi.Pack("assignRole", addr, role)
	if err != nil {
		return nil, err
	}
	return c.submit(ctx, c.accessAddr, data)
}

func (c *Client) GetUserRole(ctx context.Context, addr common.Address) (uint8, error) {
	data, err := c.accessAbi.Pack("getUserRole", addr)
	if err != nil {
		return 0, err
	}

	raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.accessAddr, Data: data}, nil)
	if err != nil {
		return 0, err
	}

	out, err := c.accessAbi.Unpack("getUserRole", raw)
	if err != nil {
		return 0, err
	}

	return out[0].(uint8), nil
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	return c.gasPrice(ctx)
}

func (c *Client) NetworkInfo(ctx context.Context) (*NetworkInfo, error) {
	block, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}

	price, err := c.gasPrice(ctx)
	if err != nil {
		return nil, err
	}

	return &NetworkInfo{
		ChainID:     c.chainID,
		BlockNumber: block,
		GasPrice:    price,
	}, nil
}

func (c *Client) Health(ctx context.Context) error {
	_, err := c.eth.BlockNumber(ctx)
	return err
}

// submit runs a mutating call through the write lane: estimate, price,
// sign, send, wait for confirmation depth, retry with escalating gas on
// retryable failures.
func (c *Client) submit(ctx context.Context, to common.Address, data []byte) (*Receipt, error) {
	select {
	case <-c.writeLane:
		defer func() { c.writeLane <- struct{}{} }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	gasLimit, err := c.estimateGas(ctx, to, data)
	if err != nil {
		return nil, fmt.Errorf("chain: gas estimation failed: %w", err)
	}

	price, err := c.gasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: gas price fetch failed: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.policy.RetryAttempts; attempt++ {
		if attempt > 0 {
			price = bumpGasPrice(price, c.policy.RetryPriceMultiplier)
			delay := time.Second << (attempt - 1)
			c.logger.Warn("retrying chain write", "attempt", attempt, "delay", delay, "gasPrice", price, "error", lastErr)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		receipt, err := c.sendOnce(ctx, to, data, gasLimit, price)
		if err == nil {
			return receipt, nil
		}

		lastErr = err
		if !RetryableRPC(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("chain: write failed after %d attempts: %w", c.policy.RetryAttempts+1, lastErr)
}

func (c *Client) sendOnce(ctx context.Context, to common.Address, data []byte, gasLimit uint64, price *big.Int) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()

	nonce, err := c.eth.PendingNonceAt(ctx, c.operatorAddr)
	if err != nil {
		return nil, err
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: price,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.operator)
	if err != nil {
		return nil, err
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return nil, err
	}

	receipt, err := bind.WaitMined(ctx, c.eth, signed)
	if err != nil {
		return nil, err
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("chain: transaction %s reverted", signed.Hash().Hex())
	}

	if err := c.waitConfirmations(ctx, receipt.BlockNumber.Uint64()); err != nil {
		return nil, err
	}

	return &Receipt{
		TxHash:      signed.Hash().Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}, nil
}

func (c *Client) waitConfirmations(ctx context.Context, minedAt uint64) error {
	if c.confirmations <= 1 {
		return nil
	}

	target := minedAt + c.confirmations - 1
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		head, err := c.eth.BlockNumber(ctx)
		if err != nil {
			return err
		}
		if head >= target {
			return nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// estimateGas returns the buffered gas limit for (to, data). Estimates
// are cached briefly since the estimator is pure on chain-state
// snapshots.
func (c *Client) estimateGas(ctx context.Context, to common.Address, data []byte) (uint64, error) {
	key := estimateCacheKey(to, data)
	if cached, ok := c.estimateCache.Get(key); ok {
		return cached, nil
	}

	estimate, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From: c.operatorAddr,
		To:   &to,
		Data: data,
	})
	if err != nil {
		return 0, err
	}

	buffered := uint64(float64(estimate) * c.policy.BufferFactor)
	c.estimateCache.Add(key, buffered)

	return buffered, nil
}

func estimateCacheKey(to common.Address, data []byte) string {
	sum := sha256.Sum256(append(to.Bytes(), data...))
	return hex.EncodeToString(sum[:])
}

func (c *Client) gasPrice(ctx context.Context) (*big.Int, error) {
	if cached, ok := c.priceCache.Get("gas-price"); ok {
		return new(big.Int).Set(cached), nil
	}

	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}

	price = clampGasPrice(price, c.policy)
	c.priceCache.Add("gas-price", new(big.Int).Set(price))

	return price, nil
}

func clampGasPrice(price *big.Int, policy GasPolicy) *big.Int {
	min := new(big.Int).Mul(big.NewInt(policy.MinGwei), big.NewInt(params.GWei))
	max := new(big.Int).Mul(big.NewInt(policy.MaxGwei), big.NewInt(params.GWei))

	if price.Cmp(min) < 0 {
		return min
	}
	if price.Cmp(max) > 0 {
		return max
	}
	return new(big.Int).Set(price)
}

func bumpGasPrice(price *big.Int, multiplier float64) *big.Int {
	scaled := new(big.Int).Mul(price, big.NewInt(int64(multiplier*100)))
	return scaled.Div(scaled, big.NewInt(100))
}
