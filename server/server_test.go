package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/vellumd/vellum/chain"
	"github.com/vellumd/vellum/envelope"
	"github.com/vellumd/vellum/ipfs"
	"github.com/vellumd/vellum/models"
)

// mockRegistry is an in-memory stand-in for the on-chain registry.
type mockRegistry struct {
	mu         sync.Mutex
	failWrites bool
	failReads  bool

	registered    map[[32]byte]*chain.Document
	registerCalls int
	grantCalls    int
	revokeCalls   int
	transferCalls int
	blockNumber   uint64
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{
		registered:  map[[32]byte]*chain.Document{},
		blockNumber: 100,
	}
}

var errMockChainDown = errors.New("connection refused")

func (m *mockRegistry) receipt() *chain.Receipt {
	m.blockNumber++
	return &chain.Receipt{
		TxHash:      "0x" + common.Bytes2Hex(common.LeftPadBytes(big.NewInt(int64(m.blockNumber)).Bytes(), 32)),
		BlockNumber: m.blockNumber,
		GasUsed:     21000,
	}
}

func (m *mockRegistry) RegisterDocument(ctx context.Context, hash [32]byte, cid string, owner common.Address, metaJson string) (*chain.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.registerCalls++
	if m.failWrites {
		return nil, errMockChainDown
	}

	m.registered[hash] = &chain.Document{
		IsValid:   true,
		Issuer:    owner,
		Owner:     owner,
		Cid:       cid,
		Timestamp: time.Now().UTC(),
		IsActive:  true,
	}
	return m.receipt(), nil
}

func (m *mockRegistry) VerifyDocument(ctx context.Context, hash [32]byte) (*chain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failReads {
		return nil, errMockChainDown
	}

	doc, ok := m.registered[hash]
	if !ok {
		return nil, chain.ErrDocumentNotFound
	}
	return doc, nil
}

func (m *mockRegistry) TransferOwnership(ctx context.Context, hash [32]byte, newOwner common.Address) (*chain.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.transferCalls++
	if m.failWrites {
		return nil, errMockChainDown
	}
	if doc, ok := m.registered[hash]; ok {
		doc.Owner = newOwner
	}
	return m.receipt(), nil
}

func (m *mockRegistry) GrantAccess(ctx context.Context, hash [32]byte, viewer common.Address) (*chain.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.grantCalls++
	if m.failWrites {
		return nil, errMockChainDown
	}
	return m.receipt(), nil
}

func (m *mockRegistry) RevokeAccess(ctx context.Context, hash [32]byte, viewer common.Address) (*chain.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.revokeCalls++
	if m.failWrites {
		return nil, errMockChainDown
	}
	return m.receipt(), nil
}

func (m *mockRegistry) AssignRole(ctx context.Context, addr common.Address, role uint8) (*chain.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWrites {
		return nil, errMockChainDown
	}
	return m.receipt(), nil
}

func (m *mockRegistry) GetUserRole(ctx context.Context, addr common.Address) (uint8, error) {
	return 3, nil
}

func (m *mockRegistry) BlockNumber(ctx context.Context) (uint64, error) {
	if m.failReads {
		return 0, errMockChainDown
	}
	return m.blockNumber, nil
}

func (m *mockRegistry) GasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (m *mockRegistry) NetworkInfo(ctx context.Context) (*chain.NetworkInfo, error) {
	if m.failReads {
		return nil, errMockChainDown
	}
	return &chain.NetworkInfo{ChainID: big.NewInt(1337), BlockNumber: m.blockNumber, GasPrice: big.NewInt(1_000_000_000)}, nil
}

func (m *mockRegistry) Health(ctx context.Context) error {
	if m.failReads {
		return errMockChainDown
	}
	return nil
}

func newTestServer(t *testing.T) (*Server, *mockRegistry) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.Principal{},
		&models.Document{},
		&models.VerificationLog{},
		&models.AccessLog{},
	))

	store, err := ipfs.NewClient(&ipfs.ClientArgs{
		Providers: []ipfs.Provider{ipfs.NewMemoryProvider()},
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	masterKey, err := envelope.NewMasterKey([]byte("test master secret"))
	require.NoError(t, err)

	reg := newMockRegistry()

	s := &Server{
		db:        db,
		store:     store,
		registry:  reg,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		masterKey: masterKey,
		inflight:  newHashLocks(),
		suspicion: newSuspicionMonitor(3, time.Minute),
		config: &config{
			Version:              "test",
			Hostname:             "vellum.test",
			VerifyBaseUrl:        "https://vellum.test/verify",
			MaxUploadBytes:       25 << 20,
			PipelineTimeout:      10 * time.Second,
			ChainTimeout:         2 * time.Second,
			LogRetentionDays:     7 * 365,
			MetricsRetentionDays: 30,
			ReconcileAfter:       10 * time.Minute,
			ReconcileEvery:       5 * time.Minute,
		},
	}

	return s, reg
}

func testPrincipal(role models.Role, addr string) *models.Principal {
	return &models.Principal{
		Address:   addr,
		Role:      role,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
}

const (
	addrIssuer   = "0x1111111111111111111111111111111111111111"
	addrOwner    = "0x2222222222222222222222222222222222222222"
	addrVerifier = "0x3333333333333333333333333333333333333333"
	addrAdmin    = "0x4444444444444444444444444444444444444444"
	addrOther    = "0x5555555555555555555555555555555555555555"
)

func testMetadata() DocumentMetadata {
	return DocumentMetadata{
		StudentName:     "Ada Lovelace",
		StudentID:       "S-1815",
		InstitutionName: "University of London",
		DocumentType:    "degree",
		IssueDate:       "2024-06-01",
		Description:     "BSc Mathematics",
	}
}

func mustIssue(t *testing.T, s *Server, raw []byte) *models.Document {
	t.Helper()

	result, err := s.issue(context.Background(), &issueRequest{
		raw:      raw,
		filename: "degree.pdf",
		mimeType: "application/pdf",
		metadata: testMetadata(),
		owner:    addrOwner,
		issuer:   testPrincipal(models.RoleIssuer, addrIssuer),
	})
	require.NoError(t, err)
	require.NotNil(t, result.doc)

	return result.doc
}
