// Package shipper wires together the journal source, batcher, and
// uploader into a single running process.
//
// # Lifecycle
//
//  1. Resolve the log stream name via the identity resolver.
//  2. Construct the optional token cache and drop ledger named by
//     configuration.
//  3. Construct the Uploader (describes or creates the log stream),
//     wired to whichever of those are available.
//  4. Construct the Batcher on top of the Uploader, then the journal
//     source and the self-health reporter.
//  5. Spawn the journal producer and run the batcher's consumer loop
//     until the journal channel closes or the context is canceled.
//
// On panic or unrecoverable construction error the caller is expected to
// exit non-zero; Shipper itself never calls os.Exit.
package shipper

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/ec2"

	"github.com/offbyone/journald-to-cloudwatch/internal/audit"
	"github.com/offbyone/journald-to-cloudwatch/internal/batch"
	"github.com/offbyone/journald-to-cloudwatch/internal/config"
	"github.com/offbyone/journald-to-cloudwatch/internal/identity"
	"github.com/offbyone/journald-to-cloudwatch/internal/journal"
	"github.com/offbyone/journald-to-cloudwatch/internal/secrets"
	"github.com/offbyone/journald-to-cloudwatch/internal/selfhealth"
	"github.com/offbyone/journald-to-cloudwatch/internal/tokencache"
	"github.com/offbyone/journald-to-cloudwatch/internal/upload"
	"github.com/offbyone/journald-to-cloudwatch/pkg/types"
)

// eventChannelDepth bounds the journal producer's lead over the batcher
// consumer, matching the reference implementation's bounded channel.
const eventChannelDepth = 1024

// Shipper owns the running pipeline's goroutines.
type Shipper struct {
	cfg    *config.Config
	logger *slog.Logger

	journalSrc *journal.Source
	batcher    *batch.Batcher
	health     *selfhealth.Reporter

	tokenCache *tokencache.Cache
	ledger     *audit.Ledger
}

// New builds every component the configuration names. It contacts AWS
// (and, if configured, 1Password, Redis, and Postgres) synchronously, so
// a returned error means the process is not fit to run.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Shipper, error) {
	if logger == nil {
		logger = slog.Default()
	}

	awsCfg, err := loadAWSConfig(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	resolver := identity.New(identity.Config{
		EC2Client:       ec2.NewFromConfig(awsCfg),
		MetadataTimeout: cfg.AWS.MetadataTimeout,
		Logger:          logger,
	})
	streamName := resolver.ResolveLogStreamName(ctx)
	logger.Info("resolved log stream name", "stream", streamName)

	s := &Shipper{cfg: cfg, logger: logger}

	if cfg.TokenCache.RedisURL != "" {
		cache, err := tokencache.New(cfg.TokenCache.RedisURL, logger)
		if err != nil {
			logger.Warn("token cache unavailable, continuing without it", "error", err)
		} else {
			s.tokenCache = cache
		}
	}

	if cfg.Audit.DatabaseURL != "" {
		ledger, err := audit.NewFromURL(ctx, cfg.Audit.DatabaseURL, logger)
		if err != nil {
			logger.Warn("drop ledger unavailable, continuing without it", "error", err)
		} else {
			s.ledger = ledger
		}
	}

	uploaderCfg := upload.Config{
		Client:             cloudwatchlogs.NewFromConfig(awsCfg),
		LogGroupName:       cfg.LogGroupName,
		StreamName:         streamName,
		PutEventsPerSecond: cfg.RateLimit.PutEventsPerSecond,
		Logger:             logger,
	}
	if s.tokenCache != nil {
		uploaderCfg.TokenCache = s.tokenCache
	}
	if s.ledger != nil {
		uploaderCfg.DropSink = s.ledger
	}

	uploader, err := upload.New(ctx, uploaderCfg)
	if err != nil {
		return nil, fmt.Errorf("constructing uploader: %w", err)
	}

	s.batcher = batch.New(uploader, batch.Config{
		MaxEvents:     cfg.Batching.MaxEvents,
		MaxBatchBytes: cfg.Batching.MaxBatchBytes,
		MaxBatchAge:   cfg.Batching.MaxBatchAge,
		Logger:        logger,
	})

	s.journalSrc = journal.New(journal.Config{Logger: logger})
	s.health = selfhealth.New(selfhealth.Config{Interval: cfg.Health.ReportInterval, Logger: logger})

	return s, nil
}

// Run spawns the journal producer and the self-health reporter, then
// drives the batcher's consumer loop until the journal channel closes or
// ctx is canceled. The first goroutine to fail determines the return
// value.
func (s *Shipper) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan types.LogEvent, eventChannelDepth)
	errCh := make(chan error, 2)

	go func() {
		// The journal reader blocks in libsystemd's C library via cgo;
		// pin it to its own OS thread rather than sharing one with
		// whatever other goroutine the runtime schedules there.
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		errCh <- s.journalSrc.Run(runCtx, events)
	}()
	go func() { errCh <- s.health.Run(runCtx) }()

	batcherErr := make(chan error, 1)
	go func() { batcherErr <- s.batcher.Run(runCtx, events) }()

	select {
	case err := <-batcherErr:
		cancel()
		return err
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			s.logger.Error("component exited with error", "error", err)
		}
		// Canceling runCtx unblocks the batcher even when the journal
		// source exited without closing events (e.g. it never opened
		// the journal successfully).
		cancel()
		<-batcherErr
		return err
	case <-ctx.Done():
		cancel()
		<-batcherErr
		return ctx.Err()
	}
}

// Close releases the optional ambient components' resources.
func (s *Shipper) Close() {
	if s.tokenCache != nil {
		s.tokenCache.Close()
	}
	if s.ledger != nil {
		s.ledger.Close()
	}
}

func loadAWSConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.AWS.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.AWS.Region))
	}

	if cfg.AWS.SecretSource != "" {
		resolver, err := secretsResolverFromReference(cfg.AWS.SecretSource)
		if err != nil {
			logger.Warn("failed to build secrets resolver, falling back to default AWS credential chain", "error", err)
		} else {
			opts = append(opts, awsconfig.WithCredentialsProvider(resolver))
		}
	}

	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

// secretsResolverFromReference builds a secrets.Resolver from an
// "op://vault/item" style reference, reading the Connect host and token
// from the environment the way the reference control plane does.
func secretsResolverFromReference(ref string) (*secrets.Resolver, error) {
	vaultID, itemTitle, err := parseOnePasswordRef(ref)
	if err != nil {
		return nil, err
	}
	return secrets.New(secrets.Config{
		ConnectHost:  envOrEmpty("OP_CONNECT_HOST"),
		ConnectToken: envOrEmpty("OP_CONNECT_TOKEN"),
		VaultID:      vaultID,
		ItemTitle:    itemTitle,
	})
}
