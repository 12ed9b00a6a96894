// Package cli implements the eckpos command line.
package cli

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xelth-com/eckposgo/internal/buildinfo"
	"github.com/xelth-com/eckposgo/internal/config"
	"github.com/xelth-com/eckposgo/internal/database"
	"github.com/xelth-com/eckposgo/internal/repository"
	"github.com/xelth-com/eckposgo/internal/sync"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose   bool
	RulesFile string
}

// NewRootCommand creates the root command for the eckpos CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "eckpos",
		Short:         "eckPOS sync conflict resolution",
		Long:          "Detects, resolves and audits conflicts between terminal and central copies of POS records.",
		Version:       buildinfo.String(),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose logging")
	cmd.PersistentFlags().StringVar(&opts.RulesFile, "rules", "", "rule file (overrides CONFLICT_RULES_PATH)")

	// Add subcommands
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewPurgeCommand(opts))
	cmd.AddCommand(NewSummaryCommand(opts))
	cmd.AddCommand(NewRulesCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}

// engine is the wired conflict engine shared by the commands
type engine struct {
	cfg      *config.Config
	log      *zap.Logger
	db       *database.DB
	rules    *sync.RuleTable
	resolver *sync.ConflictResolver
	batch    *sync.BatchCoordinator
}

func (e *engine) Close() {
	if err := e.db.Close(); err != nil {
		e.log.Warn("database close error", zap.Error(err))
	}
	_ = e.log.Sync()
}

func newLogger(cfg *config.Config, verbose bool) (*zap.Logger, error) {
	if cfg.IsDevelopment() || verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// loadRules returns the rule table seed: the rules file when one is set, the built-in defaults otherwise
func loadRules(opts *RootOptions, cfg *config.Config) ([]sync.Rule, string, error) {
	path := cfg.Conflicts.RulesPath
	if opts.RulesFile != "" {
		path = opts.RulesFile
	}
	if path == "" {
		return sync.DefaultConflictRules(), "built-in defaults", nil
	}
	rules, err := sync.LoadRulesFile(path)
	if err != nil {
		return nil, "", err
	}
	return rules, path, nil
}

// openEngine loads configuration, connects and migrates the store and wires
// the resolver. reg and notifier may be nil; notifier is built with the
// engine's logger.
func openEngine(opts *RootOptions, reg prometheus.Registerer, notifier func(*zap.Logger) sync.Notifier) (*engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	log, err := newLogger(cfg, opts.Verbose)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	seed, source, err := loadRules(opts, cfg)
	if err != nil {
		return nil, err
	}

	db, err := database.Connect(cfg.Database, log)
	if err != nil {
		return nil, err
	}
	log.Info("🚀 Synchronizing database schema...")
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	rules := sync.NewRuleTable(seed...)
	log.Info("conflict rules loaded", zap.String("source", source), zap.Int("rules", len(seed)))

	resolverOpts := []sync.Option{
		sync.WithLogger(log),
		sync.WithMetrics(sync.NewMetrics(reg)),
	}
	if notifier != nil {
		resolverOpts = append(resolverOpts, sync.WithNotifier(notifier(log)))
	}
	resolver := sync.NewConflictResolver(repository.NewStore(db.DB), rules, resolverOpts...)

	return &engine{
		cfg:      cfg,
		log:      log,
		db:       db,
		rules:    rules,
		resolver: resolver,
		batch:    sync.NewBatchCoordinator(resolver, cfg.Conflicts.BatchSize),
	}, nil
}
