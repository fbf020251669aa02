package server

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/vellumd/vellum/chain"
	"github.com/vellumd/vellum/envelope"
	"github.com/vellumd/vellum/internal/helpers"
	"github.com/vellumd/vellum/ipfs"
	"github.com/vellumd/vellum/models"
)

type Server struct {
	httpd      *http.Server
	echo       *echo.Echo
	db         *gorm.DB
	store      *ipfs.Client
	registry   chain.Registry
	logger     *slog.Logger
	config     *config
	masterKey  *envelope.MasterKey
	sessionKey *ecdsa.PrivateKey
	inflight   *hashLocks
	suspicion  *suspicionMonitor
}

type Args struct {
	Addr   string
	DbName string
	Logger *slog.Logger

	Version  string
	Hostname string
	// VerifyBaseUrl is the public URL embedded in QR codes.
	VerifyBaseUrl string

	MasterSecret   []byte
	SessionKeyPath string
	AdminPassword  string

	Store    *ipfs.Client
	Registry chain.Registry

	MaxUploadBytes  int64
	PipelineTimeout time.Duration
	ChainTimeout    time.Duration

	LogRetentionDays     int
	MetricsRetentionDays int

	ReconcileAfter time.Duration
	ReconcileEvery time.Duration

	SuspicionThreshold int
	SuspicionWindow    time.Duration
}

type config struct {
	Version       string
	Hostname      string
	VerifyBaseUrl string

	AdminPasswordHash []byte

	MaxUploadBytes  int64
	PipelineTimeout time.Duration
	ChainTimeout    time.Duration

	LogRetentionDays     int
	MetricsRetentionDays int

	ReconcileAfter time.Duration
	ReconcileEvery time.Duration
}

type CustomValidator struct {
	validator *validator.Validate
}

type ValidationError struct {
	error
	Field string
	Tag   string
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		var validateErrors validator.ValidationErrors
		if errors.As(err, &validateErrors) && len(validateErrors) > 0 {
			first := validateErrors[0]
			return ValidationError{
				error: err,
				Field: first.Field(),
				Tag:   first.Tag(),
			}
		}

		return err
	}

	return nil
}

func New(args *Args) (*Server, error) {
	if args.Addr == "" {
		return nil, fmt.Errorf("addr must be set")
	}

	if args.DbName == "" {
		return nil, fmt.Errorf("db name must be set")
	}

	if args.Hostname == "" {
		return nil, fmt.Errorf("hostname must be set")
	}

	if len(args.MasterSecret) == 0 {
		return nil, fmt.Errorf("master secret must be set")
	}

	if args.Store == nil {
		return nil, fmt.Errorf("content store client must be set")
	}

	if args.Registry == nil {
		return nil, fmt.Errorf("chain registry client must be set")
	}

	if args.Logger == nil {
		args.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))
	}

	if args.VerifyBaseUrl == "" {
		args.VerifyBaseUrl = "https://" + args.Hostname + "/verify"
	}

	if args.MaxUploadBytes == 0 {
		args.MaxUploadBytes = 25 << 20
	}

	if args.PipelineTimeout == 0 {
		args.PipelineTimeout = 60 * time.Second
	}

	if args.ChainTimeout == 0 {
		args.ChainTimeout = 30 * time.Second
	}

	if args.LogRetentionDays == 0 {
		args.LogRetentionDays = 7 * 365
	}

	if args.MetricsRetentionDays == 0 {
		args.MetricsRetentionDays = 30
	}

	if args.ReconcileAfter == 0 {
		args.ReconcileAfter = 10 * time.Minute
	}

	if args.ReconcileEvery == 0 {
		args.ReconcileEvery = 5 * time.Minute
	}

	if args.SuspicionThreshold == 0 {
		args.SuspicionThreshold = 5
	}

	if args.SuspicionWindow == 0 {
		args.SuspicionWindow = 15 * time.Minute
	}

	e := echo.New()

	e.Pre(middleware.RemoveTrailingSlash())
	e.Pre(slogecho.New(args.Logger))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowHeaders:     []string{"*"},
		AllowMethods:     []string{"*"},
		AllowCredentials: true,
		MaxAge:           100_000_000,
	}))
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", args.MaxUploadBytes>>20)))

	vdtor := validator.New()
	vdtor.RegisterValidation("eth-addr", func(fl validator.FieldLevel) bool {
		_, ok := helpers.CanonicalAddress(fl.Field().String())
		return ok
	})
	vdtor.RegisterValidation("doc-hash", func(fl validator.FieldLevel) bool {
		_, ok := helpers.CanonicalHash(fl.Field().String())
		return ok
	})
	vdtor.RegisterValidation("doc-type", func(fl validator.FieldLevel) bool {
		return models.ValidDocumentType(fl.Field().String())
	})

	e.Validator = &CustomValidator{validator: vdtor}

	httpd := &http.Server{
		Addr:    args.Addr,
		Handler: e,
	}

	db, err := gorm.Open(sqlite.Open(args.DbName), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	masterKey, err := envelope.NewMasterKey(args.MasterSecret)
	if err != nil {
		return nil, err
	}

	var sessionKey *ecdsa.PrivateKey
	if args.SessionKeyPath != "" {
		sessionKey, err = loadSessionKey(args.SessionKeyPath)
		if err != nil {
			return nil, fmt.Errorf("error loading session key: %w", err)
		}
	}

	var adminHash []byte
	if args.AdminPassword != "" {
		adminHash, err = hashAdminPassword(args.AdminPassword)
		if err != nil {
			return nil, err
		}
	}

	s := &Server{
		httpd:      httpd,
		echo:       e,
		logger:     args.Logger,
		db:         db,
		store:      args.Store,
		registry:   args.Registry,
		masterKey:  masterKey,
		sessionKey: sessionKey,
		inflight:   newHashLocks(),
		suspicion:  newSuspicionMonitor(args.SuspicionThreshold, args.SuspicionWindow),
		config: &config{
			Version:              args.Version,
			Hostname:             args.Hostname,
			VerifyBaseUrl:        args.VerifyBaseUrl,
			AdminPasswordHash:    adminHash,
			MaxUploadBytes:       args.MaxUploadBytes,
			PipelineTimeout:      args.PipelineTimeout,
			ChainTimeout:         args.ChainTimeout,
			LogRetentionDays:     args.LogRetentionDays,
			MetricsRetentionDays: args.MetricsRetentionDays,
			ReconcileAfter:       args.ReconcileAfter,
			ReconcileEvery:       args.ReconcileEvery,
		},
	}

	return s, nil
}

func loadSessionKey(path string) (*ecdsa.PrivateKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(b)
	if block == nil {
		return nil, fmt.Errorf("no pem block in %s", path)
	}

	return x509.ParseECPrivateKey(block.Bytes)
}

func (s *Server) addRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/chain/info", s.handleChainInfo)

	// public verification surface; principal attached when a session
	// token is present, anonymous otherwise
	s.echo.POST("/verify", s.handleVerify, s.handleOptionalSessionMiddleware)
	s.echo.GET("/verify", s.handleVerifyByHash, s.handleOptionalSessionMiddleware)
	s.echo.GET("/documents/:hash/qr", s.handleQr)

	// authed document surface
	s.echo.POST("/documents", s.handleIssue, s.handleSessionMiddleware)
	s.echo.GET("/documents", s.handleDocumentList, s.handleSessionMiddleware)
	s.echo.GET("/documents/:hash", s.handleDocumentGet, s.handleSessionMiddleware)
	s.echo.GET("/documents/:hash/download", s.handleDocumentDownload, s.handleSessionMiddleware)
	s.echo.POST("/documents/:hash/revoke", s.handleDocumentRevoke, s.handleSessionMiddleware)
	s.echo.POST("/documents/:hash/access/grant", s.handleAccessGrant, s.handleSessionMiddleware)
	s.echo.POST("/documents/:hash/access/revoke", s.handleAccessRevoke, s.handleSessionMiddleware)
	s.echo.POST("/documents/:hash/transfer", s.handleTransfer, s.handleSessionMiddleware)
	s.echo.GET("/documents/:hash/logs", s.handleVerificationLogs, s.handleSessionMiddleware)
	s.echo.GET("/documents/:hash/stats", s.handleDocumentStats, s.handleSessionMiddleware)

	// admin
	s.echo.POST("/admin/roles", s.handleAdminAssignRole, s.handleAdminMiddleware)
}

func (s *Server) Serve(ctx context.Context) error {
	s.addRoutes()

	s.logger.Info("migrating...")

	s.db.AutoMigrate(
		&models.Principal{},
		&models.Document{},
		&models.VerificationLog{},
		&models.AccessLog{},
	)

	s.logger.Info("starting vellum", "addr", s.httpd.Addr)

	go func() {
		if err := s.httpd.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			panic(err)
		}
	}()

	go s.runReconciler(ctx)
	go s.runLogRetention(ctx)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.httpd.Shutdown(shutdownCtx)
}
