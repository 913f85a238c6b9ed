package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	params "github.com/goliatone/go-params"
	"github.com/goliatone/go-params/internal/config"
	"github.com/goliatone/go-params/internal/logging"
	"github.com/goliatone/go-params/pkg/activity"
	"github.com/goliatone/go-params/pkg/cache"
	"github.com/goliatone/go-params/pkg/service"
	"github.com/goliatone/go-params/pkg/state/gormstore"
)

// app holds the flags and the runtime shared by every subcommand.
type app struct {
	configPath string
	driver     string
	dsn        string
	output     string

	cfg     *config.Config
	logger  *slog.Logger
	store   *gormstore.Store
	svc     *service.Service
	closers []func() error
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if closeErr := a.close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return 0
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "paramctl",
		Short:         "Resolve and manage hierarchical merchant parameters",
		Long:          `Resolve parameters along the Merchant, Organization, Program and Bank chain, and manage the overrides stored at each level.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Configuration file (default ./params.yaml when present)")
	flags.StringVar(&a.driver, "driver", "", "Database driver, sqlite or postgres (overrides config)")
	flags.StringVar(&a.dsn, "dsn", "", "Database DSN (overrides config)")
	flags.StringVarP(&a.output, "output", "o", "text", "Output format, text or json")

	root.AddCommand(
		newResolveCmd(a),
		newResolveManyCmd(a),
		newEffectiveCmd(a),
		newChainCmd(a),
		newTraceCmd(a),
		newSetCmd(a),
		newDeleteCmd(a),
		newHistoryCmd(a),
		newDefinitionsCmd(a),
		newValidateCmd(a),
		newSchemaCmd(a),
		newSeedCmd(a),
	)
	return root
}

// open loads configuration and wires the store, cache, event emitter and
// service. Resources are released by close in reverse order.
func (a *app) open(cmd *cobra.Command) error {
	switch a.output {
	case "text", "json":
	default:
		return fmt.Errorf("unknown output format %q", a.output)
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.driver != "" {
		cfg.Database.Driver = a.driver
	}
	if a.dsn != "" {
		cfg.Database.DSN = a.dsn
	}
	a.cfg = cfg

	logger, closeLog, err := logging.Setup(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.logger = logger
	a.closers = append(a.closers, closeLog)

	db, err := gormstore.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	ctx := cmd.Context()
	a.store = gormstore.New(db)
	if err := a.store.Migrate(ctx); err != nil {
		return err
	}

	var hook activity.ActivityHook = logHook(logger)
	if cfg.Activity.QueueSize > 0 {
		queue := activity.NewQueueHook(hook, cfg.Activity.QueueSize, logger)
		a.closers = append(a.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return queue.Close(ctx)
		})
		hook = queue
	}
	emitter := activity.NewEmitter(activity.Hooks{hook}, activity.Config{
		Enabled: cfg.Activity.Enabled,
		Channel: cfg.Activity.Channel,
	})

	validator, err := params.NewValidator(params.WithEvaluatorLogger(params.SlogEvaluatorLogger(logger)))
	if err != nil {
		return err
	}

	a.svc = service.New(a.store, a.store,
		service.WithLogger(logger),
		service.WithValidator(validator),
		service.WithEmitter(emitter),
		service.WithWriteRetries(cfg.Writes.MaxRetries),
		service.WithCache(cache.New(
			cache.WithDefaultTTL(cfg.Cache.TTL),
			cache.WithCapacity(cfg.Cache.Capacity),
			cache.WithLogger(logger),
		)),
	)
	if err := a.svc.Start(ctx); err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		a.svc.Close()
		return nil
	})
	return nil
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// logHook records every change event in the process log.
func logHook(logger *slog.Logger) activity.HookFunc {
	return func(ctx context.Context, event activity.Event) error {
		logger.InfoContext(ctx, "parameter changed",
			slog.String("verb", event.Verb),
			slog.String("object_id", event.ObjectID),
			slog.String("actor", event.ActorID),
			slog.String("channel", event.Channel))
		return nil
	}
}

// render writes v as indented JSON, or calls text for the text format.
func (a *app) render(cmd *cobra.Command, v any, text func(io.Writer) error) error {
	out := cmd.OutOrStdout()
	if a.output == "json" || text == nil {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return text(out)
}

func parseEntityType(raw string) (params.EntityType, error) {
	entityType, ok := params.ParseEntityType(raw)
	if !ok {
		return "", fmt.Errorf("%w: unknown entity type %q (want merchant, organization, program or bank)", params.ErrInvalidParameter, raw)
	}
	return entityType, nil
}

func parseTime(flag, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", flag, err)
	}
	return &t, nil
}
