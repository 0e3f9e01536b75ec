package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"plantlab/internal/config"
	"plantlab/internal/core"
	"plantlab/internal/logging"
)

// globals carries the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	envFile    string
	trace      bool

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "plantlab",
		Short:         "Plant tissue-culture lab inventory and planning",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.load()
		},
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "configuration file (yaml or json)")
	root.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	root.PersistentFlags().BoolVar(&g.trace, "trace", false, "write service operation traces to stderr as JSON")

	root.AddCommand(
		newServeCmd(g),
		newImportCmd(g),
		newStatsCmd(g),
		newSearchCmd(g),
		newPlanCmd(g),
		newChambersCmd(g),
		newResetCmd(g),
	)
	return root
}

func (g *globals) load() error {
	if g.envFile != "" {
		if err := godotenv.Load(g.envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", g.envFile, err)
		}
	}
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return err
	}
	g.cfg = cfg
	return nil
}

// openService opens the configured store and wraps it in a service. The
// returned close function releases the store.
func (g *globals) openService(ctx context.Context, logger *logging.Logger, extra ...core.Option) (*core.Service, func(), error) {
	store, err := core.OpenPersistentStore(ctx, g.cfg.Storage.Options(), core.NewDefaultRulesEngine())
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", g.cfg.Storage.Driver, err)
	}
	opts := []core.Option{core.WithLogger(logger.With("service")), core.WithAuditRecorder(auditLog{logger: logger.With("audit")})}
	if g.trace {
		opts = append(opts, core.WithTracer(core.NewSpanLog(logger.With("trace"), 256)))
	}
	svc := core.NewService(store, append(opts, extra...)...)
	closeFn := func() {
		if err := svc.Close(); err != nil {
			logger.Error("close store", "error", err)
		}
	}
	return svc, closeFn, nil
}

// logger writes to stderr so command output on stdout stays parseable.
func (g *globals) logger(component string) *logging.Logger {
	return logging.NewWithWriter(os.Stderr, component, g.cfg.Logging.Level)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
