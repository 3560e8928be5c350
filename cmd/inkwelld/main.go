package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/inkwell-press/inkwell/internal/httpapi"
	"github.com/inkwell-press/inkwell/internal/scheduler"
	"github.com/inkwell-press/inkwell/internal/store/gormstore"
	"github.com/inkwell-press/inkwell/pkg/economy"
	"github.com/inkwell-press/inkwell/pkg/ranking"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL      = "database-url"
	flagListenAddr       = "listen-addr"
	flagAllowedOrigins   = "allowed-origins"
	flagTokenSigningKey  = "token-signing-key"
	flagTokenIssuer      = "token-issuer"
	configKeyDatabaseURL = "database_url"
	configKeyListenAddr  = "listen_addr"
	configKeyOrigins     = "allowed_origins"
	configKeySigningKey  = "token_signing_key"
	configKeyIssuer      = "token_issuer"
	defaultDatabaseURL   = "sqlite:///tmp/inkwell.db"
	defaultListenAddr    = ":8080"
)

type runtimeConfig struct {
	DatabaseURL     string
	ListenAddr      string
	AllowedOrigins  string
	TokenSigningKey string
	TokenIssuer     string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "inkwelld: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "inkwelld",
		Short:         "Serialized fiction economy and ranking server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or SQLite connection string")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated CORS origins")
	cmd.Flags().String(flagTokenSigningKey, "", "HMAC key for bearer tokens")
	cmd.Flags().String(flagTokenIssuer, "", "expected token issuer")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := []struct {
		key string
		env string
	}{
		{configKeyDatabaseURL, "DATABASE_URL"},
		{configKeyListenAddr, "HTTP_LISTEN_ADDR"},
		{configKeyOrigins, "ALLOWED_ORIGINS"},
		{configKeySigningKey, "TOKEN_SIGNING_KEY"},
		{configKeyIssuer, "TOKEN_ISSUER"},
	}
	for _, binding := range bindings {
		if err := viper.BindEnv(binding.key, binding.env); err != nil {
			return err
		}
	}

	flags := []struct {
		key  string
		flag string
	}{
		{configKeyDatabaseURL, flagDatabaseURL},
		{configKeyListenAddr, flagListenAddr},
		{configKeyOrigins, flagAllowedOrigins},
		{configKeySigningKey, flagTokenSigningKey},
		{configKeyIssuer, flagTokenIssuer},
	}
	for _, binding := range flags {
		if err := viper.BindPFlag(binding.key, cmd.Flags().Lookup(binding.flag)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.AllowedOrigins = viper.GetString(configKeyOrigins)
	cfg.TokenSigningKey = viper.GetString(configKeySigningKey)
	cfg.TokenIssuer = viper.GetString(configKeyIssuer)
	if cfg.TokenSigningKey == "" {
		return fmt.Errorf("token signing key is required")
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer cleanup()

	if err := gormstore.AutoMigrate(gormDB); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	store := gormstore.New(gormDB)
	rankingStore := gormstore.NewRankingStore(gormDB)
	clock := func() time.Time { return time.Now().UTC() }

	economyService, err := economy.NewService(store, clock,
		economy.WithOperationLogger(&zapOperationLogger{logger: logger}))
	if err != nil {
		return fmt.Errorf("economy service init: %w", err)
	}
	engine, err := ranking.NewEngine(rankingStore, rankingStore, clock,
		ranking.WithDropHandler(func(typ ranking.Type, storyID int64) {
			logger.Warn("ranking candidate dropped",
				zap.String("type", typ.String()),
				zap.Int64("story_id", storyID))
		}))
	if err != nil {
		return fmt.Errorf("ranking engine init: %w", err)
	}
	rankingQuery, err := ranking.NewQuery(rankingStore)
	if err != nil {
		return fmt.Errorf("ranking query init: %w", err)
	}

	jobs, err := scheduler.New(logger, economyService, engine, economy.DefaultReportingZone)
	if err != nil {
		return fmt.Errorf("scheduler init: %w", err)
	}
	jobs.Start()
	defer jobs.Stop()

	return httpapi.Run(ctx, httpapi.Config{
		ListenAddr:      cfg.ListenAddr,
		AllowedOrigins:  httpapi.ParseAllowedOrigins(cfg.AllowedOrigins),
		TokenSigningKey: cfg.TokenSigningKey,
		TokenIssuer:     cfg.TokenIssuer,
	}, logger, economyService, rankingQuery)
}

type zapOperationLogger struct {
	logger *zap.Logger
}

func (adapter *zapOperationLogger) LogOperation(ctx context.Context, entry economy.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.Int64("account_id", entry.AccountID),
		zap.String("status", entry.Status),
	}
	if entry.Balance != "" {
		fields = append(fields, zap.String("balance", entry.Balance.String()))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount", entry.Amount))
	}
	if entry.ChapterID != 0 {
		fields = append(fields, zap.Int64("chapter_id", entry.ChapterID))
	}
	if entry.StoryID != 0 {
		fields = append(fields, zap.Int64("story_id", entry.StoryID))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
	}
	adapter.logger.Info("economy operation", fields...)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, err
	}

	var db *gorm.DB
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), &gorm.Config{})
	default:
		return nil, nil, fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "inkwell.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}
