package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"template-studio/internal/config"
	"template-studio/internal/domain/entity"
	"template-studio/internal/observability/logging"
	pkgconfig "template-studio/internal/pkg/config"
)

// Config metrics register on the default registry and may only be created once.
var resilienceConfigMetrics = sync.OnceValue(func() *pkgconfig.ConfigMetrics {
	return pkgconfig.NewConfigMetrics("resilience")
})

// app carries the state shared by every subcommand.
type app struct {
	cfgPath string
	debug   bool

	logger *slog.Logger
	cfg    *config.ResilienceConfig

	// openStores is replaced in tests.
	openStores func(ctx context.Context, cfg *config.ResilienceConfig, logger *slog.Logger) (*stores, error)
}

func newRootCmd() *cobra.Command {
	a := &app{openStores: openStores}
	return a.rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:               "recoveryctl",
		Short:             "Inspect and recover editor draft backups",
		Long:              `recoveryctl operates the backup stores behind the template editor's crash recovery.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "YAML file overlaid on environment settings")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		a.backupCmd(),
		a.verifyCmd(),
		a.recoverCmd(),
		a.clearCmd(),
		a.janitorCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load()

	bootstrap := logging.NewConsoleLogger(cmd.ErrOrStderr(), slog.LevelWarn)
	cfg := config.LoadResilienceConfigFromEnv(bootstrap, resilienceConfigMetrics())
	if a.cfgPath != "" {
		fileCfg, err := config.LoadResilienceConfigFile(a.cfgPath, *cfg)
		if err != nil {
			return err
		}
		cfg = fileCfg
	} else if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	level := logging.ParseLevel(cfg.LogLevel)
	if a.debug {
		level = slog.LevelDebug
	}
	a.logger = logging.NewConsoleLogger(cmd.ErrOrStderr(), level)
	slog.SetDefault(a.logger)
	return nil
}

// keyFlags binds --doc and --role to a command.
type keyFlags struct {
	doc  string
	role string
}

func (k *keyFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&k.doc, "doc", "", "document ID")
	cmd.Flags().StringVar(&k.role, "role", "", "role of an unsaved draft (admin, editor, writer, viewer)")
	cmd.MarkFlagsMutuallyExclusive("doc", "role")
	cmd.MarkFlagsOneRequired("doc", "role")
}

func (k *keyFlags) key() (entity.BackupKey, error) {
	if doc := strings.TrimSpace(k.doc); doc != "" {
		return entity.DocumentKey(doc), nil
	}
	if role := strings.TrimSpace(k.role); role != "" {
		return entity.RoleKey(string(entity.ParseRole(role))), nil
	}
	return entity.BackupKey{}, errors.New("one of --doc or --role is required")
}

// withStores opens the configured stores, runs fn and closes them.
func (a *app) withStores(ctx context.Context, fn func(*stores) error) error {
	s, err := a.openStores(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("open backup stores: %w", err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			a.logger.Warn("failed to close backup stores", slog.Any("error", err))
		}
	}()
	return fn(s)
}
