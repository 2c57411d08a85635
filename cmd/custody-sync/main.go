// custody-sync is the long-running indexer: it scans configured ledgers on an
// interval, mirrors deposit records into the index store, archives snapshots,
// and publishes lifecycle events.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dielemma/custody/internal/archive"
	"github.com/dielemma/custody/internal/backend"
	"github.com/dielemma/custody/internal/chain"
	"github.com/dielemma/custody/internal/events"
	"github.com/dielemma/custody/internal/index"
	indexpg "github.com/dielemma/custody/internal/index/postgres"
	"github.com/dielemma/custody/internal/secrets"
	"github.com/dielemma/custody/internal/syncer"
)

func main() {
	var (
		interval = flag.Duration("interval", time.Minute, "scan interval")

		solanaRPC     = flag.String("solana-rpc-url", "", "Solana RPC endpoint (empty disables the solana backend)")
		solanaNetwork = flag.String("solana-network", "mainnet", "solana network: mainnet|devnet")

		evmRPC     = flag.String("evm-rpc-url", "", "EVM RPC endpoint (empty disables the evm backend)")
		evmNetwork = flag.String("evm-network", "mainnet", "evm network: mainnet|sepolia")
		vaultAddr  = flag.String("vault", "", "vault contract address (required with --evm-rpc-url)")

		storeDriver   = flag.String("store-driver", "postgres", "index store driver: postgres|memory")
		postgresDSN   = flag.String("postgres-dsn", "", "Postgres DSN (exclusive with --postgres-dsn-secret)")
		postgresDSNID = flag.String("postgres-dsn-secret", "", "secret name resolving to the Postgres DSN")
		secretsDriver = flag.String("secrets-driver", "env", "secret provider driver: env|aws")

		archiveDriver = flag.String("archive-driver", "", "snapshot archive driver: s3|memory (empty disables archiving)")
		archiveBucket = flag.String("archive-bucket", "", "S3 bucket for snapshots (required when --archive-driver=s3)")
		archivePrefix = flag.String("archive-prefix", "custody", "key prefix for archived snapshots")

		eventsDriver  = flag.String("events-driver", "", "event producer driver: kafka|stdio (empty disables publishing)")
		eventsBrokers = flag.String("events-brokers", "", "comma-separated kafka brokers (required for kafka)")
		eventsTopic   = flag.String("events-topic", "custody.events.v1", "event topic")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *interval <= 0 {
		fmt.Fprintln(os.Stderr, "error: --interval must be > 0")
		os.Exit(2)
	}
	if *solanaRPC == "" && *evmRPC == "" {
		fmt.Fprintln(os.Stderr, "error: at least one of --solana-rpc-url and --evm-rpc-url is required")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := chain.NewRegistry()

	if *solanaRPC != "" {
		adapter, err := backend.New(chain.ChainSolana, chain.Network(strings.TrimSpace(*solanaNetwork)), backend.Config{
			RPCURL: *solanaRPC,
			Log:    log,
		})
		if err != nil {
			log.Error("init solana adapter", "err", err)
			os.Exit(2)
		}
		registry.Register(adapter)
	}

	if *evmRPC != "" {
		adapter, err := backend.New(chain.ChainEVM, chain.Network(strings.TrimSpace(*evmNetwork)), backend.Config{
			RPCURL:       *evmRPC,
			VaultAddress: *vaultAddr,
			Log:          log,
		})
		if err != nil {
			log.Error("init evm adapter", "err", err)
			os.Exit(2)
		}
		registry.Register(adapter)
	}

	var store index.Store
	switch strings.ToLower(strings.TrimSpace(*storeDriver)) {
	case "postgres":
		dsn := strings.TrimSpace(*postgresDSN)
		switch {
		case dsn != "" && strings.TrimSpace(*postgresDSNID) != "":
			fmt.Fprintln(os.Stderr, "error: --postgres-dsn and --postgres-dsn-secret are exclusive")
			os.Exit(2)
		case dsn == "" && strings.TrimSpace(*postgresDSNID) == "":
			fmt.Fprintln(os.Stderr, "error: one of --postgres-dsn and --postgres-dsn-secret is required when --store-driver=postgres")
			os.Exit(2)
		case dsn == "":
			provider, err := secrets.New(ctx, *secretsDriver)
			if err != nil {
				log.Error("init secret provider", "err", err)
				os.Exit(2)
			}
			dsn, err = provider.Get(ctx, *postgresDSNID)
			if err != nil {
				log.Error("resolve postgres dsn", "err", err)
				os.Exit(2)
			}
		}
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			log.Error("init pgx pool", "err", err)
			os.Exit(2)
		}
		defer pool.Close()

		pgStore, err := indexpg.New(pool)
		if err != nil {
			log.Error("init index store", "err", err)
			os.Exit(2)
		}
		if err := pgStore.EnsureSchema(ctx); err != nil {
			log.Error("ensure index schema", "err", err)
			os.Exit(2)
		}
		store = pgStore
	case "memory":
		store = index.NewMemoryStore()
	default:
		fmt.Fprintf(os.Stderr, "error: unsupported --store-driver %q\n", *storeDriver)
		os.Exit(2)
	}

	var arch archive.Store
	if driver := strings.ToLower(strings.TrimSpace(*archiveDriver)); driver != "" {
		archCfg := archive.Config{
			Driver: driver,
			Prefix: *archivePrefix,
			Bucket: *archiveBucket,
		}
		if driver == archive.DriverS3 {
			awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
			if err != nil {
				log.Error("load aws config", "err", err)
				os.Exit(2)
			}
			archCfg.S3Client = s3.NewFromConfig(awsCfg)
		}
		var err error
		arch, err = archive.New(archCfg)
		if err != nil {
			log.Error("init snapshot archive", "err", err)
			os.Exit(2)
		}
	}

	var producer events.Producer
	if driver := strings.ToLower(strings.TrimSpace(*eventsDriver)); driver != "" {
		var err error
		producer, err = events.NewProducer(driver, splitCommaList(*eventsBrokers), *eventsTopic)
		if err != nil {
			log.Error("init event producer", "err", err)
			os.Exit(2)
		}
		defer func() { _ = producer.Close() }()
	}

	s, err := syncer.New(syncer.Config{
		Interval: *interval,
		Archive:  arch,
		Producer: producer,
		Log:      log,
	}, registry, store)
	if err != nil {
		log.Error("init syncer", "err", err)
		os.Exit(2)
	}

	log.Info("custody sync started",
		"pairs", registry.Pairs(),
		"interval", interval.String(),
		"storeDriver", strings.ToLower(strings.TrimSpace(*storeDriver)),
		"archiveDriver", strings.ToLower(strings.TrimSpace(*archiveDriver)),
		"eventsDriver", strings.ToLower(strings.TrimSpace(*eventsDriver)),
	)

	if err := s.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("sync loop", "err", err)
		os.Exit(1)
	}
	log.Info("shutdown", "reason", ctx.Err())
}

func splitCommaList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
