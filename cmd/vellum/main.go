package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v2"

	"github.com/vellumd/vellum/chain"
	"github.com/vellumd/vellum/ipfs"
	"github.com/vellumd/vellum/server"
)

var Version = "dev"

func main() {
	app := &cli.App{
		Name:  "vellum",
		Usage: "Blockchain-anchored academic credential service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Value:   ":8080",
				EnvVars: []string{"VELLUM_ADDR"},
			},
			&cli.StringFlag{
				Name:    "db-name",
				Value:   "vellum.db",
				EnvVars: []string{"VELLUM_DB_NAME"},
			},
			&cli.StringFlag{
				Name:     "hostname",
				Required: true,
				EnvVars:  []string{"VELLUM_HOSTNAME"},
			},
			&cli.StringFlag{
				Name:    "verify-base-url",
				EnvVars: []string{"VELLUM_VERIFY_BASE_URL"},
			},
			&cli.StringFlag{
				Name:     "master-key-path",
				Required: true,
				EnvVars:  []string{"VELLUM_MASTER_KEY_PATH"},
			},
			&cli.StringFlag{
				Name:    "session-key-path",
				EnvVars: []string{"VELLUM_SESSION_KEY_PATH"},
			},
			&cli.StringFlag{
				Name:    "admin-password",
				EnvVars: []string{"VELLUM_ADMIN_PASSWORD"},
			},
			&cli.StringFlag{
				Name:     "chain-rpc-url",
				Required: true,
				EnvVars:  []string{"VELLUM_CHAIN_RPC_URL"},
			},
			&cli.StringFlag{
				Name:     "operator-private-key",
				Required: true,
				EnvVars:  []string{"VELLUM_OPERATOR_PRIVATE_KEY"},
			},
			&cli.StringFlag{
				Name:     "registry-address",
				Required: true,
				EnvVars:  []string{"VELLUM_REGISTRY_ADDRESS"},
			},
			&cli.StringFlag{
				Name:     "access-control-address",
				Required: true,
				EnvVars:  []string{"VELLUM_ACCESS_CONTROL_ADDRESS"},
			},
			&cli.Uint64Flag{
				Name:    "confirmation-blocks",
				Value:   1,
				EnvVars: []string{"VELLUM_CONFIRMATION_BLOCKS"},
			},
			&cli.Int64Flag{
				Name:    "gas-min-gwei",
				Value:   1,
				EnvVars: []string{"VELLUM_GAS_MIN_GWEI"},
			},
			&cli.Int64Flag{
				Name:    "gas-max-gwei",
				Value:   50,
				EnvVars: []string{"VELLUM_GAS_MAX_GWEI"},
			},
			&cli.IntFlag{
				Name:    "gas-retry-attempts",
				Value:   3,
				EnvVars: []string{"VELLUM_GAS_RETRY_ATTEMPTS"},
			},
			&cli.StringFlag{
				Name:    "kubo-api",
				EnvVars: []string{"VELLUM_KUBO_API"},
			},
			&cli.StringFlag{
				Name:    "pinata-jwt",
				EnvVars: []string{"VELLUM_PINATA_JWT"},
			},
			&cli.StringFlag{
				Name:    "pinata-gateway",
				EnvVars: []string{"VELLUM_PINATA_GATEWAY"},
			},
			&cli.DurationFlag{
				Name:    "pipeline-timeout",
				Value:   60 * time.Second,
				EnvVars: []string{"VELLUM_PIPELINE_TIMEOUT"},
			},
			&cli.DurationFlag{
				Name:    "chain-timeout",
				Value:   30 * time.Second,
				EnvVars: []string{"VELLUM_CHAIN_TIMEOUT"},
			},
			&cli.IntFlag{
				Name:    "log-retention-days",
				Value:   7 * 365,
				EnvVars: []string{"VELLUM_LOG_RETENTION_DAYS"},
			},
			&cli.IntFlag{
				Name:    "metrics-retention-days",
				Value:   30,
				EnvVars: []string{"VELLUM_METRICS_RETENTION_DAYS"},
			},
		},
		Commands: []*cli.Command{
			run,
		},
		ErrWriter: os.Stdout,
		Version:   Version,
	}

	app.Run(os.Args)
}

var run = &cli.Command{
	Name:  "run",
	Usage: "Start the vellum service",
	Action: func(cmd *cli.Context) error {
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))

		masterSecret, err := os.ReadFile(cmd.String("master-key-path"))
		if err != nil {
			return fmt.Errorf("error reading master key: %w", err)
		}

		var providers []ipfs.Provider
		if api := cmd.String("kubo-api"); api != "" {
			kubo, err := ipfs.NewKuboProvider(&ipfs.KuboArgs{Api: api})
			if err != nil {
				return err
			}
			providers = append(providers, kubo)
		}
		if jwt := cmd.String("pinata-jwt"); jwt != "" {
			pinata, err := ipfs.NewPinataProvider(&ipfs.PinataArgs{
				Jwt:     jwt,
				Gateway: cmd.String("pinata-gateway"),
			})
			if err != nil {
				return err
			}
			providers = append(providers, pinata)
		}

		store, err := ipfs.NewClient(&ipfs.ClientArgs{
			Providers: providers,
			Logger:    logger,
		})
		if err != nil {
			return fmt.Errorf("error creating content store client: %w", err)
		}

		policy := chain.DefaultGasPolicy()
		policy.MinGwei = cmd.Int64("gas-min-gwei")
		policy.MaxGwei = cmd.Int64("gas-max-gwei")
		policy.RetryAttempts = cmd.Int("gas-retry-attempts")

		registry, err := chain.NewClient(cmd.Context, &chain.ClientArgs{
			RpcUrl:             cmd.String("chain-rpc-url"),
			OperatorPrivateKey: cmd.String("operator-private-key"),
			RegistryAddress:    cmd.String("registry-address"),
			AccessCtrlAddress:  cmd.String("access-control-address"),
			Confirmations:      cmd.Uint64("confirmation-blocks"),
			WriteTimeout:       cmd.Duration("chain-timeout"),
			Policy:             policy,
			Logger:             logger,
		})
		if err != nil {
			return fmt.Errorf("error creating chain client: %w", err)
		}

		s, err := server.New(&server.Args{
			Addr:                 cmd.String("addr"),
			DbName:               cmd.String("db-name"),
			Logger:               logger,
			Version:              Version,
			Hostname:             cmd.String("hostname"),
			VerifyBaseUrl:        cmd.String("verify-base-url"),
			MasterSecret:         masterSecret,
			SessionKeyPath:       cmd.String("session-key-path"),
			AdminPassword:        cmd.String("admin-password"),
			Store:                store,
			Registry:             registry,
			PipelineTimeout:      cmd.Duration("pipeline-timeout"),
			ChainTimeout:         cmd.Duration("chain-timeout"),
			LogRetentionDays:     cmd.Int("log-retention-days"),
			MetricsRetentionDays: cmd.Int("metrics-retention-days"),
		})
		if err != nil {
			fmt.Printf("error creating vellum: %v", err)
			return err
		}

		if err := s.Serve(cmd.Context); err != nil {
			fmt.Printf("error starting vellum: %v", err)
			return err
		}

		return nil
	},
}
