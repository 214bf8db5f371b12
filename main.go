package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"rfp_scout/config"
	"rfp_scout/daemon"
	"rfp_scout/discovery"
	"rfp_scout/export"
	"rfp_scout/httputil"
	"rfp_scout/logging"
	"rfp_scout/qualifier"
	"rfp_scout/source"
	"rfp_scout/storage"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if err := newRootCommand().Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// app holds what every subcommand needs once config is loaded.
type app struct {
	cfg     *config.Config
	logFile io.Closer
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "rfp_scout",
		Short:         "Scheduled discovery and qualification of government RFPs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			a.cfg = cfg

			logFile, err := logging.Setup(cfg.LogFile)
			if err != nil {
				log.Printf("Warning: could not set up file logging: %v", err)
			} else {
				a.logFile = logFile
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logFile != nil {
				a.logFile.Close()
			}
		},
	}

	root.AddCommand(
		newServeCommand(a),
		newDiscoverCommand(a),
		newSchedulesCommand(a),
		newRunsCommand(a),
		newLogsCommand(a),
		newMaintenanceCommand(a),
	)
	return root
}

func (a *app) openStore(ctx context.Context) (storage.Store, error) {
	store, err := storage.Open(ctx, storage.Options{
		Driver:      a.cfg.StoreDriver,
		SQLitePath:  a.cfg.DBPath,
		PostgresURL: a.cfg.DatabaseURL,
	})
	if err != nil {
		return nil, err
	}
	if a.cfg.StoreDriver == config.StorePostgres {
		log.Printf("Connected to Postgres: %s", maskConnectionString(a.cfg.DatabaseURL))
	} else {
		log.Printf("SQLite database: %s", a.cfg.DBPath)
	}
	return store, nil
}

func (a *app) newExecutor(ctx context.Context, store storage.Store) (*discovery.Executor, error) {
	clients := httputil.NewClients(a.cfg.Proxy)

	scorer, err := qualifier.New(a.cfg.Anthropic, clients.API)
	if err != nil {
		return nil, fmt.Errorf("create scorer: %w", err)
	}

	sinks := []export.Sink{export.NewStoreSink(store)}
	if a.cfg.S3.Bucket != "" {
		uploader, err := storage.NewS3Uploader(ctx, a.cfg.S3)
		if err != nil {
			log.Printf("Warning: S3 archive disabled: %v", err)
		} else {
			sinks = append(sinks, export.NewS3Sink(uploader, a.cfg.S3.Prefix))
			log.Printf("Archiving runs to s3://%s/%s", a.cfg.S3.Bucket, a.cfg.S3.Prefix)
		}
	}

	return discovery.NewExecutor(discovery.Deps{
		Store:    store,
		Source:   source.New(a.cfg.SAM, clients.Source),
		Scorer:   scorer,
		Settings: a.cfg,
		Sinks:    export.NewMulti(sinks...),
	}, discovery.Options{
		DefaultModel:  a.cfg.Anthropic.DefaultModel,
		MaxRecentRuns: a.cfg.Daemon.MaxRecentRuns,
		ScoreTimeout:  a.cfg.Daemon.ScoreTimeout,
	}), nil
}

func (a *app) newDaemon(ctx context.Context, store storage.Store) (*daemon.Daemon, error) {
	exec, err := a.newExecutor(ctx, store)
	if err != nil {
		return nil, err
	}
	opts, err := daemon.OptionsFromConfig(a.cfg)
	if err != nil {
		return nil, err
	}
	return daemon.New(daemon.Deps{Store: store, Executor: exec}, opts), nil
}

// maskConnectionString hides the password in a connection URL for logging.
func maskConnectionString(connStr string) string {
	u, err := url.Parse(connStr)
	if err != nil || u.User == nil {
		return connStr
	}
	return u.Redacted()
}
