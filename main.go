package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"vsoportal/internal/api"
	"vsoportal/internal/auth"
	"vsoportal/internal/config"
	"vsoportal/internal/redis"
	"vsoportal/internal/service/registry"
	"vsoportal/internal/session"
	"vsoportal/internal/storage"
	"vsoportal/internal/submission"
	"vsoportal/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	serve := newServeCommand()
	root := &cobra.Command{
		Use:           "vsoportal",
		Short:         "Intake portal for VSO assessments",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	root.Flags().AddFlagSet(serve.Flags())
	root.AddCommand(serve)
	root.AddCommand(newHashPasswordCommand())
	return root
}

func newServeCommand() *cobra.Command {
	var cfgPath, dbType string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfgPath == "" {
				cfgPath = os.Getenv("VSOPORTAL_CONFIG")
			}
			if dbType == "" {
				dbType = os.Getenv("VSOPORTAL_DB")
			}
			if dbType == "" {
				dbType = "sqlite3"
			}
			return serve(cmd.Context(), cfgPath, dbType)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "config file (json, toml or yaml); defaults to $VSOPORTAL_CONFIG")
	cmd.Flags().StringVar(&dbType, "db", "", "database driver: sqlite3, mysql or postgres; defaults to $VSOPORTAL_DB")
	return cmd
}

func serve(parent context.Context, cfgPath, dbType string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	sessionOpts := session.Options{
		Timeout:     cfg.SessionTimeout(),
		WarningLead: cfg.WarningLead(),
	}
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.NewRedisClient(cfg)
		if err != nil {
			return fmt.Errorf("create redis client: %w", err)
		}
		defer rdb.Close()
		sessionOpts.Store = session.NewRedisKV(rdb)
	}
	sessions := session.NewRegistry(sessionOpts)
	defer sessions.Close()
	if rdb != nil {
		if err := session.NewBroadcaster(rdb).Attach(ctx, sessions); err != nil {
			return fmt.Errorf("subscribe to session broadcasts: %w", err)
		}
	}

	drafts := submission.NewDraftStore(submission.StoreOptions{
		MaxFileBytes: cfg.BasicConfig.MaxUploadBytes,
		TTL:          cfg.DraftTTL(),
		Dir:          cfg.BasicConfig.UploadDir,
	})
	drafts.StartCleaner(ctx, cfg.DraftCleanInterval())

	dispatcher := worker.NewDispatcher(worker.Config{
		MinWorkers:  cfg.BasicConfig.MinWorkers,
		MaxWorkers:  cfg.BasicConfig.MaxWorkers,
		QueueSize:   cfg.BasicConfig.QueueSize,
		IdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Minute,
	})
	defer dispatcher.Close()

	handlers := api.NewHandler(
		auth.NewService(cfg.Auth, sessions),
		registry.NewService(db, dbType),
		drafts,
		submission.NewSubmitter(cfg.Webhook.URL, nil),
		dispatcher,
		api.Options{Jurists: cfg.Jurists, MaxUploadBytes: cfg.BasicConfig.MaxUploadBytes},
	)

	router := gin.Default()
	handlers.RegisterRoutes(router)
	srv := &http.Server{Addr: cfg.BasicConfig.ServerAddress, Handler: router}
	// Shutdown waits for handlers, and event streams only end with the session
	srv.RegisterOnShutdown(handlers.CloseStreams)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("listening on %s, webhook %s", srv.Addr, cfg.Webhook.URL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newHashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for the auth.password_hash setting",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return errors.New("password must not be empty")
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
