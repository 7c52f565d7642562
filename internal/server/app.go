// Package server wires the pindrop server together: configuration, the
// Postgres repositories, the S3 blob store, the attempt governor, the
// lifecycle monitor and the gRPC transport.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/pindrop/internal/logging"
	"github.com/dmitrijs2005/pindrop/internal/netx"
	"github.com/dmitrijs2005/pindrop/internal/server/blobstore"
	"github.com/dmitrijs2005/pindrop/internal/server/cache"
	"github.com/dmitrijs2005/pindrop/internal/server/config"
	"github.com/dmitrijs2005/pindrop/internal/server/governor"
	"github.com/dmitrijs2005/pindrop/internal/server/lifecycle"
	"github.com/dmitrijs2005/pindrop/internal/server/orphans"
	"github.com/dmitrijs2005/pindrop/internal/server/pincodec"
	"github.com/dmitrijs2005/pindrop/internal/server/quota"
	"github.com/dmitrijs2005/pindrop/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/pindrop/internal/server/services"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	gs "github.com/dmitrijs2005/pindrop/internal/server/grpc"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	redis       *redis.Client
	repomanager repomanager.RepositoryManager
	monitor     *lifecycle.Monitor
	quota       *quota.Accountant
	service     *services.BucketService
	proxies     []netip.Prefix
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)
	app := &App{config: c, logger: logger, repomanager: repomanager.NewPostgresRepositoryManager()}

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	app.db = db

	if err := app.build(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (app *App) build(ctx context.Context) error {
	c := app.config

	proxies, err := netx.ParsePrefixes(c.TrustedProxies)
	if err != nil {
		return fmt.Errorf("trusted proxies: %w", err)
	}
	app.proxies = proxies

	codec, err := pincodec.New(c.PinEncryptionKey, c.PinHashKey)
	if err != nil {
		return err
	}

	var ledger governor.Ledger = governor.NewMemoryLedger()
	if c.RedisAddr != "" {
		app.redis = redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		ledger = governor.NewRedisLedger(app.redis)
	}
	var verifier governor.ChallengeVerifier = governor.RejectAllVerifier{}
	if c.ChallengeVerifyURL != "" {
		verifier = governor.NewHTTPChallengeVerifier(c.ChallengeVerifyURL, c.ChallengeSecret, 10*time.Second)
	}
	gov := governor.New(ledger, verifier, app.logger)

	blobs, err := blobstore.New(ctx, c)
	if err != nil {
		return fmt.Errorf("blob store init error: %w", err)
	}

	var reporter orphans.Reporter = orphans.NewLogReporter(app.logger)
	if c.OrphanQueueURL != "" {
		sqsReporter, err := orphans.NewSQSReporter(ctx, c.S3Region, c.OrphanQueueURL, app.logger)
		if err != nil {
			return fmt.Errorf("orphan queue init error: %w", err)
		}
		reporter = sqsReporter
	}

	bucketCache := cache.NewBucketCache(c.CacheSize, c.CacheTTL)
	app.monitor = lifecycle.NewMonitor(app.db, app.repomanager, blobs, reporter, bucketCache, app.logger)
	app.quota = quota.NewAccountant(app.db, app.repomanager, c.QuotaBytes, c.MaxObjectBytes)

	app.service = services.NewBucketService(app.db, app.repomanager, codec, gov, app.monitor, app.quota, blobs, bucketCache, app.logger)
	return nil
}

// Migrate applies the embedded schema migrations.
func (app *App) Migrate(ctx context.Context) error {
	if err := app.repomanager.RunMigrations(ctx, app.db); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	return nil
}

// Sweep runs one lifecycle pass.
func (app *App) Sweep(ctx context.Context) (lifecycle.SweepReport, error) {
	return app.service.Sweep(ctx)
}

// Usage reports the bytes ownerID has stored and the cap they count against.
func (app *App) Usage(ctx context.Context, ownerID string) (used, capBytes int64, err error) {
	used, err = app.quota.TotalUsed(ctx, ownerID)
	return used, app.quota.Cap(), err
}

func (app *App) Close() error {
	var err error
	if app.redis != nil {
		err = app.redis.Close()
	}
	if app.db != nil {
		if cerr := app.db.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.service, app.config.SecretKey, int(2*app.config.QuotaBytes), app.proxies)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// startSweeper runs the lifecycle sweep every SweepInterval until ctx ends.
func (app *App) startSweeper(ctx context.Context) {
	ticker := time.NewTicker(app.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := app.Sweep(ctx); err != nil {
				app.logger.Error(ctx, "sweep failed", "error", err)
			}
		}
	}
}

func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	defer app.Close()

	app.logger.Info(ctx, "Starting app...")

	if err := app.Migrate(ctx); err != nil {
		return err
	}

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	if app.config.SweepInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startSweeper(ctx)
		}()
	}

	wg.Wait()
	app.logger.Info(context.Background(), "App stopped")
	return nil
}
