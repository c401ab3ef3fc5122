package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joestump/memctl/internal/activityhub"
	"github.com/joestump/memctl/internal/bridge"
	"github.com/joestump/memctl/internal/config"
	"github.com/joestump/memctl/internal/fsgate"
	"github.com/joestump/memctl/internal/linkregistry"
	"github.com/joestump/memctl/internal/logging"
	"github.com/joestump/memctl/internal/mcpbridge"
	"github.com/joestump/memctl/internal/retrieval"
	"github.com/joestump/memctl/internal/scheduler"
	"github.com/joestump/memctl/internal/statedb"
	"github.com/joestump/memctl/internal/store"
	"github.com/joestump/memctl/internal/web"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "memctl",
		Short: "Memory-bridge subsystem coupling an agent host to a content-addressed memory store",
	}

	f := rootCmd.PersistentFlags()
	f.String("agent-id", "", "agent identity reported to the memory store")
	f.String("endpoint", "", "memory store base URL (viking:// resource scheme origin)")
	f.Int("timeout-ms", 10000, "HTTP timeout for store requests, in milliseconds")
	f.String("state-dir", "./state", "directory for the session store, outbox, and state database")
	f.String("config-file", "", "optional YAML config overlay (lowest precedence)")
	f.Bool("enabled", true, "enable the memory backend")
	f.Bool("dual-write", true, "mirror host events into the memory store")
	f.Int("dashboard-port", 8989, "HTTP port for the dashboard")
	f.Bool("outbox-enabled", true, "queue writes durably instead of sending them synchronously")

	bindFlag := func(viperKey, flagName string) {
		_ = viper.BindPFlag(viperKey, f.Lookup(flagName))
	}
	bindFlag("agent_id", "agent-id")
	bindFlag("endpoint", "endpoint")
	bindFlag("timeout_ms", "timeout-ms")
	bindFlag("state_dir", "state-dir")
	bindFlag("config_file", "config-file")
	bindFlag("enabled", "enabled")
	bindFlag("dual_write", "dual-write")
	bindFlag("dashboard_port", "dashboard-port")
	bindFlag("outbox_enabled", "outbox-enabled")

	viper.SetEnvPrefix("MEMCTL")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	rootCmd.AddCommand(serveCmd(), mcpCmd(), searchCmd(), syncCmd(), statusCmd(), fsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves the final config.Config from viper (already populated
// by persistent flags and MEMCTL_* env vars) plus the optional YAML overlay.
func loadConfig() (config.Config, error) {
	return config.Load(viper.GetViper(), viper.GetString("config_file"))
}

func stateDir() string {
	dir := viper.GetString("state_dir")
	if dir == "" {
		dir = "./state"
	}
	return dir
}

// newClient builds the store.Client shared by every subcommand.
func newClient(cfg config.Config) *store.Client {
	return store.New(store.Options{
		Endpoint:  cfg.Endpoint,
		TimeoutMs: cfg.TimeoutMs,
		Headers:   cfg.Headers,
	})
}

func newLogger() zerolog.Logger {
	logging.Init(logging.Config{Level: logging.InfoLevel, Output: os.Stderr})
	return logging.Logger
}

// buildRuntime wires the registry, state db, bridge, and pipeline shared by
// serve/mcp/status. Callers are responsible for closing the returned *statedb.DB.
func buildRuntime(ctx context.Context, cfg config.Config) (*linkregistry.Registry, *statedb.DB, *bridge.Manager, *bridge.Bridge, *retrieval.Pipeline, error) {
	client := newClient(cfg)
	registry := linkregistry.New(filepath.Join(stateDir(), "sessions.json"))

	state, err := statedb.Open(filepath.Join(stateDir(), "memctl.db"))
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("open state db: %w", err)
	}

	mgr := bridge.NewManager(stateDir(), state)
	br, err := mgr.Ensure(ctx, cfg.AgentID, cfg, client, registry)
	if err != nil {
		_ = state.Close()
		return nil, nil, nil, nil, nil, fmt.Errorf("ensure bridge: %w", err)
	}

	pipeline := retrieval.New(cfg, client, registry)
	return registry, state, mgr, br, pipeline, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard, scheduler, and write-path bridge as a long-lived process",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := newLogger()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			registry, state, mgr, br, pipeline, err := buildRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer mgr.Shutdown()
			defer state.Close() //nolint:errcheck
			_ = registry

			hub := activityhub.New()

			sched := scheduler.New(log)
			if _, err := sched.Register(ctx, scheduler.Job{
				Name: "memory-decay",
				Spec: "@every 168h",
				Run: func(ctx context.Context) error {
					return state.DecayStaleMemoryMarkers(30, 0.1)
				},
			}); err != nil {
				return fmt.Errorf("register memory-decay job: %w", err)
			}
			if cfg.Commit.Triggers.EveryNMinutes > 0 {
				if _, err := sched.Register(ctx, scheduler.Job{
					Name: "periodic-commit-poll",
					Spec: "@every 1m",
					Run: func(ctx context.Context) error {
						// The bridge's own enqueue path evaluates
						// every_n_minutes triggers as events arrive; this
						// sweep covers sessions that have gone quiet (no new
						// events, so no enqueue call to trigger on).
						return br.SweepPeriodicCommits(ctx)
					},
				}); err != nil {
					return fmt.Errorf("register periodic-commit-poll job: %w", err)
				}
			}
			sched.Start()
			defer sched.Stop()

			webServer := web.New(cfg, hub, br, registry, state, pipeline)
			go func() {
				if err := webServer.Start(); err != nil {
					log.Error().Err(err).Msg("dashboard server error")
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
			sig := <-sigCh
			log.Info().Str("signal", sig.String()).Msg("shutting down")
			cancel()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return webServer.Shutdown(shutdownCtx)
		},
	}
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Expose search/readFile/sync/status as MCP tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			_, state, mgr, br, pipeline, err := buildRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer mgr.Shutdown()
			defer state.Close() //nolint:errcheck

			return mcpbridge.Run(cfg, pipeline, br)
		},
	}
}

func searchCmd() *cobra.Command {
	var sessionKey string
	var maxResults int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run one retrieval search and print the ranked, budgeted results as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client := newClient(cfg)
			registry := linkregistry.New(filepath.Join(stateDir(), "sessions.json"))
			pipeline := retrieval.New(cfg, client, registry)

			opts := retrieval.Options{SessionKey: sessionKey}
			if maxResults > 0 {
				opts.MaxResults = &maxResults
			}
			rows, err := pipeline.Search(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			return printJSON(rows)
		},
	}
	cmd.Flags().StringVar(&sessionKey, "session-key", "", "scope the search to a linked store session")
	cmd.Flags().IntVar(&maxResults, "max-results", 0, "cap the number of returned rows (0 = use configured limit)")
	return cmd
}

func syncCmd() *cobra.Command {
	var cause string
	cmd := &cobra.Command{
		Use:   "sync <session-key>",
		Short: "Force an explicit commit of a session's queued events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			_, state, mgr, br, _, err := buildRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer mgr.Shutdown()
			defer state.Close() //nolint:errcheck

			queued, err := br.EnqueueCommit(ctx, args[0], cause)
			if err != nil {
				return err
			}
			return printJSON(map[string]bool{"queued": queued})
		},
	}
	cmd.Flags().StringVar(&cause, "cause", "manual", "commit cause: session_end, reset, or manual")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print bridge and outbox health as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			_, state, mgr, br, pipeline, err := buildRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer mgr.Shutdown()
			defer state.Close() //nolint:errcheck

			out := map[string]any{
				"agent_id":       cfg.AgentID,
				"endpoint":       cfg.Endpoint,
				"bridge":         br.Stats(),
				"last_retrieval": pipeline.LastDiagnostics(),
			}
			if obStats, ok := br.OutboxStats(); ok {
				out["outbox"] = obStats
			}
			return printJSON(out)
		},
	}
}

// fsCmd groups the mutating store-fs operations (C1) behind the write
// policy gate (C7): every subcommand normalizes and vets its target uri(s)
// with fsgate before the store client is ever invoked.
func fsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fs",
		Short: "Mutate the store's filesystem, gated by the configured write policy",
	}
	cmd.AddCommand(fsMkdirCmd(), fsRmCmd(), fsMvCmd())
	return cmd
}

func fsMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <uri>",
		Short: "Create a directory at uri after the write policy gate clears it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			normalized, err := fsgate.New(cfg.FSWrite).CheckMkdir(args[0])
			if err != nil {
				return err
			}
			if err := newClient(cfg).FsMkdir(cmd.Context(), normalized); err != nil {
				return err
			}
			return printJSON(map[string]string{"mkdir": normalized})
		},
	}
}

func fsRmCmd() *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "rm <uri>",
		Short: "Remove a path at uri after the write policy gate clears it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			normalized, err := fsgate.New(cfg.FSWrite).CheckRm(args[0], recursive)
			if err != nil {
				return err
			}
			if err := newClient(cfg).FsRm(cmd.Context(), normalized, recursive); err != nil {
				return err
			}
			return printJSON(map[string]string{"rm": normalized})
		},
	}
	cmd.Flags().BoolVar(&recursive, "recursive", false, "remove directories and their contents")
	return cmd
}

func fsMvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <from> <to>",
		Short: "Move or rename a path after the write policy gate clears both sides",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			normFrom, normTo, err := fsgate.New(cfg.FSWrite).CheckMv(args[0], args[1])
			if err != nil {
				return err
			}
			if err := newClient(cfg).FsMv(cmd.Context(), normFrom, normTo); err != nil {
				return err
			}
			return printJSON(map[string]string{"from": normFrom, "to": normTo})
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
