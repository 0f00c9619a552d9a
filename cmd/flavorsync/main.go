// Flavorsync keeps a local Flavordex journal in sync with the metadata
// service and an S3-compatible photo store.
//
// Usage:
//
//	flavorsync daemon [--config <path>]               # poll and sync until stopped
//	flavorsync sync-once [--config <path>]            # single metadata cycle then exit
//	flavorsync photos-once [--validate] [--config ..] # single photo pass then exit
//	flavorsync status [--entries] [--config <path>]   # show journal and sync state
//	flavorsync reset-auth [--config <path>]           # re-enable sync after an auth failure
//	flavorsync version                                # print version
//
// A running daemon starts a cycle immediately on SIGUSR1.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flavordex/flavorsync/internal/auth"
	"github.com/flavordex/flavorsync/internal/blob"
	"github.com/flavordex/flavorsync/internal/config"
	"github.com/flavordex/flavorsync/internal/photosync"
	"github.com/flavordex/flavorsync/internal/remote"
	"github.com/flavordex/flavorsync/internal/store"
	syncp "github.com/flavordex/flavorsync/internal/sync"
	"github.com/flavordex/flavorsync/internal/telemetry"
	"github.com/flavordex/flavorsync/internal/thumbnail"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// run dispatches to the requested subcommand.
func run() error {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "daemon":
		return withApp(cmd, args, nil, runDaemon)
	case "sync-once":
		return withApp(cmd, args, nil, runSyncOnce)
	case "photos-once":
		var validate bool
		return withApp(cmd, args, func(fs *flag.FlagSet) {
			fs.BoolVar(&validate, "validate", false, "check blob ids against the blob store listing")
		}, func(ctx context.Context, a *app) error {
			return runPhotosOnce(ctx, a, validate)
		})
	case "status":
		var entries bool
		return withApp(cmd, args, func(fs *flag.FlagSet) {
			fs.BoolVar(&entries, "entries", false, "list every entry under its category")
		}, func(ctx context.Context, a *app) error {
			return runStatus(ctx, a, entries)
		})
	case "reset-auth":
		return withApp(cmd, args, nil, runResetAuth)
	case "version", "--version", "-v":
		fmt.Println("flavorsync", version)
		return nil
	case "help", "--help", "-h":
		printUsage()
		return nil
	}
	return fmt.Errorf("unknown command %q, run 'flavorsync help' for usage", cmd)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Flavorsync: sync a Flavordex journal with the metadata service")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  flavorsync daemon [--config ...]          Run as continuous daemon")
	fmt.Fprintln(os.Stderr, "  flavorsync sync-once [--config ...]       Single sync cycle then exit")
	fmt.Fprintln(os.Stderr, "  flavorsync photos-once [--validate]       Single photo pass then exit")
	fmt.Fprintln(os.Stderr, "  flavorsync status [--entries]             Show journal and sync state")
	fmt.Fprintln(os.Stderr, "  flavorsync reset-auth [--config ...]      Re-enable sync after an auth failure")
	fmt.Fprintln(os.Stderr, "  flavorsync version                        Print version")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "All commands accept --config <path> and --verbose.")
}

// app is everything a subcommand needs, wired from the config file.
type app struct {
	cfg    *config.Config
	log    *slog.Logger
	store  *store.Store
	engine *syncp.Engine
}

// withApp parses the common flags plus any extra ones, builds the app,
// runs fn under a signal-aware context, and tears everything down.
func withApp(name string, args []string, extra func(*flag.FlagSet), fn func(context.Context, *app) error) error {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, cleanup, err := newApp(*cfgPath, *verbose)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	return fn(ctx, a)
}

// newApp wires the logger, telemetry, journal, remote client, photo sync,
// and engine. The returned cleanup closes them in reverse order.
func newApp(cfgPath string, verbose bool) (*app, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// --- Logger --------------------------------------------------------------

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	text := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(telemetry.NewHandler(text, telemetry.DefaultServiceName))
	slog.SetDefault(logger)

	// --- Config --------------------------------------------------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cleanup, fmt.Errorf("loading config from %q: %w", cfgPath, err)
	}
	logger.Debug("config loaded",
		"api_url", cfg.APIURL,
		"client_id", cfg.ClientID,
		"poll_interval", cfg.PollInterval,
		"photos", cfg.Photos.Enabled(),
	)

	// --- Telemetry (optional) ------------------------------------------------

	if cfg.Telemetry != nil {
		telCfg := telemetry.Config{
			OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
			Insecure:       cfg.Telemetry.Insecure,
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: version,
			Headers:        cfg.Telemetry.Headers,
		}
		shutdownTel, err := telemetry.Setup(context.Background(), telCfg)
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			closers = append(closers, func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			})
		}
	}

	// --- Journal -------------------------------------------------------------

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, cleanup, fmt.Errorf("opening journal at %q: %w", cfg.DBPath, err)
	}
	closers = append(closers, func() {
		if err := st.Close(); err != nil {
			logger.Error("closing journal", "error", err)
		}
	})
	logger.Debug("journal opened", "path", cfg.DBPath)

	thumbs := thumbnail.New(cfg.ThumbDir, cfg.ThumbSize)

	// --- Metadata service ----------------------------------------------------

	var tokens auth.TokenSource
	if cfg.Token != "" {
		tokens = auth.Static(cfg.Token)
	} else {
		signer, err := auth.NewSigner(cfg.ClientID, []byte(cfg.Secret), cfg.TokenTTL)
		if err != nil {
			return nil, cleanup, fmt.Errorf("creating token signer: %w", err)
		}
		tokens = signer
	}
	client := remote.New(cfg.APIURL, tokens, cfg.HTTPTimeout, logger)
	syncer := syncp.NewSyncer(st, client, thumbs, logger)

	// --- Photo store (optional) ----------------------------------------------

	var photos syncp.PhotoSyncer
	if cfg.Photos.Enabled() {
		blobs, err := blob.NewS3Store(context.Background(), blob.S3Config{
			Bucket:       cfg.Photos.Bucket,
			Region:       cfg.Photos.Region,
			BaseEndpoint: cfg.Photos.Endpoint,
			AccessKey:    cfg.Photos.AccessKey,
			SecretKey:    cfg.Photos.SecretKey,
		}, logger)
		if err != nil {
			return nil, cleanup, fmt.Errorf("initialising photo store: %w", err)
		}
		photos = photosync.New(st, blobs, thumbs, cfg.PhotoDir, logger)
	}

	// --- Sync engine ---------------------------------------------------------

	engine := syncp.NewEngine(syncer, photos, st, syncp.EngineConfig{
		PollInterval:          cfg.PollInterval,
		PhotoValidateInterval: cfg.PhotoValidateInterval,
	}, logger)

	return &app{cfg: cfg, log: logger, store: st, engine: engine}, cleanup, nil
}

// --- Subcommands -------------------------------------------------------------

func runDaemon(ctx context.Context, a *app) error {
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-usr1:
				a.log.Info("sync requested by signal")
				a.engine.Trigger()
			}
		}
	}()

	a.log.Info("daemon starting",
		"poll_interval", a.cfg.PollInterval,
		"photos", a.cfg.Photos.Enabled(),
	)
	if err := a.engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("sync engine: %w", err)
	}
	a.log.Info("shutdown complete")
	return nil
}

func runSyncOnce(ctx context.Context, a *app) error {
	a.log.Info("running single sync cycle")
	res, err := a.engine.RunOnce(ctx)
	a.log.Info("sync complete",
		"completed", res.Completed,
		"categories_pushed", res.Stats.CategoriesPushed,
		"entries_pushed", res.Stats.EntriesPushed,
		"deletions_pushed", res.Stats.DeletionsPushed,
		"categories_pulled", res.Stats.CategoriesPulled,
		"entries_pulled", res.Stats.EntriesPulled,
		"deleted", res.Stats.Deleted,
		"errors", res.Stats.Errors,
	)
	if err != nil {
		return err
	}
	if !res.Completed {
		return fmt.Errorf("sync did not complete: %w", res.Err)
	}
	return nil
}

func runPhotosOnce(ctx context.Context, a *app, validate bool) error {
	if !a.cfg.Photos.Enabled() {
		return errors.New("photo sync is not configured (set photos.bucket)")
	}
	a.log.Info("running single photo pass", "validate", validate)
	stats, err := a.engine.RunPhotos(ctx, validate)
	a.log.Info("photo pass complete",
		"hashed", stats.Hashed,
		"uploaded", stats.Uploaded,
		"deduplicated", stats.Deduplicated,
		"downloaded", stats.Downloaded,
		"cleared", stats.Cleared,
		"errors", stats.Errors,
	)
	return err
}

func runStatus(ctx context.Context, a *app, entries bool) error {
	counts, err := a.store.Counts(ctx)
	if err != nil {
		return err
	}
	st, err := a.engine.Status(ctx)
	if err != nil {
		return err
	}

	fmt.Println("Flavorsync Status")
	fmt.Println("─────────────────")
	fmt.Printf("  Service:    %s (client %s)\n", a.cfg.APIURL, a.cfg.ClientID)
	if info, err := os.Stat(a.cfg.DBPath); err == nil {
		fmt.Printf("  Journal:    %s (%s)\n", a.cfg.DBPath, humanSize(info.Size()))
	}
	fmt.Printf("  Records:    %d categories, %d entries, %d photos\n",
		counts.Categories, counts.Entries, counts.Photos)
	fmt.Printf("  Unsynced:   %d categories, %d entries, %d deletions\n",
		counts.DirtyCategories, counts.DirtyEntries, counts.Tombstones)
	if a.cfg.Photos.Enabled() {
		fmt.Printf("  Photos:     %d to upload, %d to download (bucket %s)\n",
			counts.PendingUploads, counts.PendingDownloads, a.cfg.Photos.Bucket)
	} else {
		fmt.Println("  Photos:     not configured")
	}
	fmt.Printf("  Last sync:  %s\n", formatTime(st.LastSync))
	fmt.Printf("  Last try:   %s\n", formatTime(st.LastAttempt))
	if st.FailureCount > 0 {
		fmt.Printf("  Failures:   %d in a row\n", st.FailureCount)
	}
	if st.AuthDisabled {
		fmt.Println("  Auth:       disabled, run 'flavorsync reset-auth' after fixing credentials")
	}

	fmt.Println()
	fmt.Println("Categories")
	fmt.Println("──────────")
	return writeJournal(ctx, os.Stdout, a.store, entries)
}

func runResetAuth(ctx context.Context, a *app) error {
	if err := a.engine.ResetAuth(ctx); err != nil {
		return err
	}
	fmt.Println("Sync re-enabled.")
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format(time.DateTime)
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
