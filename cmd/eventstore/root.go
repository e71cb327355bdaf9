package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/INLOpen/nexusevent/config"
	"github.com/INLOpen/nexusevent/hooks"
	"github.com/INLOpen/nexusevent/hooks/listeners"
	"github.com/INLOpen/nexusevent/service"
	"github.com/spf13/cobra"
)

// rootOptions holds the global flags.
type rootOptions struct {
	ConfigPath string
	DataDir    string
	BackupDir  string
	Format     string // "auto" | "json" | "text"
}

var validFormats = []string{"auto", "json", "text"}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "eventstore",
		Short: "Inspect and maintain a device event store",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range validFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "", "store directory (overrides the config)")
	cmd.PersistentFlags().StringVar(&opts.BackupDir, "backup-dir", "", "backup directory (overrides the config)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "auto", "output format (auto|json|text)")

	cmd.AddCommand(
		newInsertCommand(opts),
		newQueryCommand(opts),
		newExportCommand(opts),
		newBackupCommand(opts),
		newRestoreCommand(opts),
		newEvictCommand(opts),
		newClearCommand(opts),
		newStatsCommand(opts),
	)
	return cmd
}

// env is an opened service with the resources that must be released
// after the command ran.
type env struct {
	svc     *service.Service
	logger  *slog.Logger
	out     io.Writer
	format  string
	cleanup []func()
}

func (e *env) Close() {
	if e.svc != nil {
		if err := e.svc.Close(); err != nil {
			e.logger.Error("Failed to close event service.", "error", err)
		}
	}
	for i := len(e.cleanup) - 1; i >= 0; i-- {
		e.cleanup[i]()
	}
}

func registerListeners(hm hooks.HookManager, cfg *config.Config, logger *slog.Logger) {
	hm.Register(hooks.EventPostCreateFile, listeners.NewFileAlerterListener(logger))

	evictStats := listeners.NewEvictionStatsListener(logger)
	hm.Register(hooks.EventPostEvictFile, evictStats)
	hm.Register(hooks.EventPostEvict, evictStats)

	if len(cfg.Outliers) > 0 {
		rules := make([]listeners.OutlierRule, 0, len(cfg.Outliers))
		for _, o := range cfg.Outliers {
			rules = append(rules, listeners.OutlierRule{
				Domain:     o.Domain,
				Name:       o.Name,
				Param:      o.Param,
				Thresholds: listeners.Thresholds{Min: o.Min, Max: o.Max},
			})
		}
		hm.Register(hooks.EventPreInsert, listeners.NewOutlierDetectionListener(logger, rules))
	}
}

// openEnv loads the configuration and opens the service.
func openEnv(cmd *cobra.Command, opts *rootOptions) (*env, error) {
	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.DataDir != "" {
		cfg.Store.DataDir = opts.DataDir
	}
	if opts.BackupDir != "" {
		cfg.Store.BackupDir = opts.BackupDir
	}

	out := cmd.OutOrStdout()
	logger, logCloser, err := createLogger(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	e := &env{logger: logger, out: out, format: resolveFormat(opts.Format, out)}
	if logCloser != nil {
		e.cleanup = append(e.cleanup, func() { logCloser.Close() })
	}

	tp, shutdownTracer, err := initTracerProvider(cfg.Tracing, logger)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	e.cleanup = append(e.cleanup, shutdownTracer)

	hm := hooks.NewHookManager(logger)
	registerListeners(hm, cfg, logger)

	svc, err := service.New(cfg, service.Options{
		Logger: logger,
		Tracer: tp.Tracer("nexusevent"),
		Hooks:  hm,
	})
	if err != nil {
		e.Close()
		return nil, err
	}
	e.svc = svc
	return e, nil
}
