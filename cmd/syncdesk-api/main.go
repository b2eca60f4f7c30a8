package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/syncdesk/backend/internal/auth"
	"github.com/syncdesk/backend/internal/collab"
	"github.com/syncdesk/backend/internal/config"
	"github.com/syncdesk/backend/internal/database"
	"github.com/syncdesk/backend/internal/logging"
	"github.com/syncdesk/backend/internal/server"
	"github.com/syncdesk/backend/internal/store"
	"github.com/syncdesk/backend/internal/users"
	"github.com/syncdesk/backend/internal/workspace"
)

var (
	cfgFile          string
	tokenUserID      string
	tokenDisplayName string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "syncdesk-api",
		Short: "SyncDesk real-time collaboration service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session token signing secret (overrides env)")
	cmd.PersistentFlags().Int("heartbeat-seconds", defaults.GetInt("collab.heartbeat_seconds"), "Heartbeat and lock sweep interval in seconds")
	cmd.PersistentFlags().Int("default-lock-minutes", defaults.GetInt("collab.default_lock_minutes"), "Default order lock duration in minutes")
	cmd.PersistentFlags().StringSlice("allowed-origins", defaults.GetStringSlice("http.allowed_origins"), "Allowed CORS and websocket origins")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "collab.heartbeat_seconds", "heartbeat-seconds")
	bindFlag(cmd, "collab.default_lock_minutes", "default-lock-minutes")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

// newTokenCommand mints a session token for a user, seeding the identity
// directory when the user is new. Intended for operators and local testing.
func newTokenCommand() *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a session token for a user",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return issueToken(cmd)
		},
	}
	tokenCmd.Flags().StringVar(&tokenUserID, "user-id", "", "User id to issue the token for")
	tokenCmd.Flags().StringVar(&tokenDisplayName, "display-name", "", "Display name stored in the directory")
	_ = tokenCmd.MarkFlagRequired("user-id")
	return tokenCmd
}

func issueToken(cmd *cobra.Command) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	directory, err := users.NewDirectory(users.DirectoryConfig{Database: db})
	if err != nil {
		return err
	}
	displayName := tokenDisplayName
	if displayName == "" {
		displayName = tokenUserID
	}
	if err := directory.Upsert(cmd.Context(), users.Identity{UserID: tokenUserID, DisplayName: displayName}); err != nil {
		return err
	}

	issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
	})
	token, expiresIn, err := issuer.IssueToken(cmd.Context(), tokenUserID)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires in %ds\n", expiresIn)
	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
	})

	persistentStore, err := store.NewStore(store.StoreConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: store.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	directory, err := users.NewDirectory(users.DirectoryConfig{Database: db})
	if err != nil {
		return err
	}

	memberships, err := workspace.NewService(workspace.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	registry := collab.NewRegistry()
	broadcaster := collab.NewBroadcaster(registry, logger)
	lockManager := collab.NewLockManager(collab.LockManagerConfig{
		Store:      persistentStore,
		Clock:      time.Now,
		DefaultTTL: appConfig.DefaultLockTTL,
		Logger:     logger,
	})

	// Rehydrate the lock table from the mirror so restarts keep honoring
	// unexpired locks.
	mirrored, err := persistentStore.ActiveLocks(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	lockManager.Warm(mirrored)

	coordinator, err := collab.NewCoordinator(collab.CoordinatorConfig{
		Registry:      registry,
		Presence:      collab.NewPresenceTracker(persistentStore, time.Now, logger),
		Locks:         lockManager,
		Edits:         collab.NewEditCoordinator(persistentStore, lockManager, time.Now, logger),
		Broadcaster:   broadcaster,
		Membership:    memberships,
		Chat:          persistentStore,
		Activity:      persistentStore,
		Clock:         time.Now,
		ActivityLimit: appConfig.ActivityFeedLimit,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	shutdownCh := make(chan struct{})
	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:   tokenManager,
		Directory:      directory,
		Coordinator:    coordinator,
		Store:          persistentStore,
		AllowedOrigins: appConfig.AllowedOrigins,
		ActivityLimit:  appConfig.ActivityFeedLimit,
		Shutdown:       shutdownCh,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := collab.NewSweeper(lockManager, broadcaster, appConfig.HeartbeatInterval, time.Now, logger)
	go sweeper.Run(signalCtx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		// Sockets get a going-away frame, then the listener drains.
		close(shutdownCh)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
