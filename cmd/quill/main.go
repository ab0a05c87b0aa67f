// Package main provides the quill CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"quill/internal/config"
	"quill/internal/llm"
	"quill/internal/logging"
	"quill/internal/store"
	"quill/internal/suggest"
	"quill/internal/thread"
	"quill/internal/watch"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version is the quill release version.
const Version = "0.3.0"

var (
	// Global flags
	verbose   bool
	workspace string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "quill",
	Short: "quill - editor-integrated documentation assistant",
	Long: `quill keeps one conversational thread per open document plus a
general-purpose thread, persists each thread's history across restarts,
and keeps the thread list in sync with the documents in the workspace.

Run without arguments to watch the workspace and serve threads.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAssistant(cmd.Context())
	},
}

// threadsCmd lists the threads known to the workspace store.
var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "List threads with persisted history",
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := buildCore(cmd.Context())
		if err != nil {
			return err
		}
		defer core.Close()

		keys, err := core.persister.ListThreadKeys()
		if err != nil {
			return fmt.Errorf("failed to list threads: %w", err)
		}
		if len(keys) == 0 {
			fmt.Println("No threads yet.")
			return nil
		}
		for _, key := range keys {
			history, _, err := core.persister.LoadHistory(key)
			if err != nil {
				fmt.Printf("%-60s (unreadable history)\n", key)
				continue
			}
			fmt.Printf("%-60s %3d messages\n", key, len(history))
		}
		return nil
	},
}

// sendCmd sends one prompt to a document's thread.
var sendCmd = &cobra.Command{
	Use:   "send [document] [prompt...]",
	Short: "Send a message to a document's thread and print the response",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := buildCore(cmd.Context())
		if err != nil {
			return err
		}
		defer core.Close()

		key, text := resolveDocument(args[0])
		prompt := strings.Join(args[1:], " ")

		ctx := cmd.Context()
		if err := core.dispatcher.CreateThread(ctx, key, text, ""); err != nil {
			return err
		}
		core.dispatcher.SetActiveThread(key)

		response, err := core.dispatcher.SendMessage(ctx, key, prompt)
		if err != nil {
			return fmt.Errorf("chat failed: %w", err)
		}
		fmt.Println(response)
		return nil
	},
}

// resetCmd clears a thread's conversation.
var resetCmd = &cobra.Command{
	Use:   "reset [document]",
	Short: "Clear a document thread's conversation history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := buildCore(cmd.Context())
		if err != nil {
			return err
		}
		defer core.Close()

		key, text := resolveDocument(args[0])
		ctx := cmd.Context()
		if err := core.dispatcher.CreateThread(ctx, key, text, ""); err != nil {
			return err
		}
		if err := core.dispatcher.ResetThread(key); err != nil {
			return err
		}
		fmt.Printf("Reset thread for %s\n", key)
		return nil
	},
}

// suggestCmd runs one missing-docs scan.
var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Suggest documentation files missing from the workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := buildCore(cmd.Context())
		if err != nil {
			return err
		}
		defer core.Close()

		for _, s := range core.scanner.MissingDocs(cmd.Context()) {
			fmt.Println(s)
		}
		return nil
	},
}

// versionCmd prints the release version.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the quill version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("quill %s\n", Version)
	},
}

// core bundles the wired components behind the CLI commands.
type core struct {
	cfg        *config.Config
	kv         *store.KVStore
	persister  *thread.Persister
	notifier   *thread.Notifier
	registry   *thread.Registry
	active     *thread.ActiveSelector
	coord      *thread.Coordinator
	dispatcher *thread.Dispatcher
	scanner    *suggest.Scanner
}

func (c *core) Close() {
	if err := c.kv.Close(); err != nil {
		logger.Warn("store close failed", zap.Error(err))
	}
}

// buildCore resolves the workspace and wires the coordination core:
// store, persister, factories, registry, selector, coordinator,
// dispatcher, scanner.
func buildCore(ctx context.Context) (*core, error) {
	ws := workspace
	if ws == "" {
		var err error
		ws, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve workspace: %w", err)
		}
	}

	if err := logging.Initialize(ws); err != nil {
		logger.Warn("category logging unavailable", zap.Error(err))
	}

	cfg, err := config.Load(config.ConfigPath(ws))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dbPath := cfg.Store.DatabasePath
	if !strings.HasPrefix(dbPath, "/") && dbPath != ":memory:" {
		dbPath = ws + "/" + dbPath
	}
	kv, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}

	persister := thread.NewPersister(kv)
	notifier := thread.NewNotifier()
	primary := llm.NewProviderFactory(cfg)
	fallback := llm.NewDirectFactory(cfg)
	registry := thread.NewRegistry(cfg, primary, fallback, persister, notifier)
	active := thread.NewActiveSelector(registry, persister, notifier)
	registry.SetActiveKeyFn(active.Active)
	coord := thread.NewCoordinator(registry, active, persister, notifier, cfg.Watch.Extensions)
	dispatcher := thread.NewDispatcher(registry, active, coord)

	backend := llm.NewGeminiHTTPClientWithConfig(llm.GeminiHTTPConfig{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Timeout: cfg.GetLLMTimeout(),
	})
	scanner := suggest.NewScanner(backend, suggest.WalkLister{}, ws)

	if err := coord.EnsureGeneral(ctx); err != nil {
		kv.Close()
		return nil, fmt.Errorf("failed to create general thread: %w", err)
	}

	return &core{
		cfg:        cfg,
		kv:         kv,
		persister:  persister,
		notifier:   notifier,
		registry:   registry,
		active:     active,
		coord:      coord,
		dispatcher: dispatcher,
		scanner:    scanner,
	}, nil
}

// runAssistant watches the workspace and serves thread lifecycle events
// until interrupted.
func runAssistant(ctx context.Context) error {
	core, err := buildCore(ctx)
	if err != nil {
		return err
	}
	defer core.Close()

	// Rebuild the thread list as it existed before restart.
	if err := core.coord.Restore(ctx); err != nil {
		logger.Warn("thread restoration incomplete", zap.Error(err))
	}

	ws := workspace
	if ws == "" {
		ws, _ = os.Getwd()
	}
	watcher, err := watch.NewDocWatcher(ws, core.cfg.Watch.Extensions, core.cfg.GetWatchDebounce())
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	if err := watcher.ScanExisting(); err != nil {
		logger.Warn("initial document scan incomplete", zap.Error(err))
	}

	core.dispatcher.SetActiveThread(thread.GeneralKey)
	logger.Info("quill running",
		zap.String("workspace", ws),
		zap.Int("threads", len(core.dispatcher.Threads())))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sigCh:
			logger.Info("shutting down")
			return nil
		case ev, ok := <-watcher.Events():
			if !ok {
				return nil
			}
			switch ev.Type {
			case watch.Opened:
				core.dispatcher.HandleOpened(ctx, ev.Key, ev.Text)
			case watch.Deleted:
				core.dispatcher.HandleDeleted(ctx, ev.Key)
			}
		}
	}
}

// resolveDocument turns a CLI document argument into a thread key plus
// best-effort document text.
func resolveDocument(arg string) (key, text string) {
	if arg == "general" || arg == thread.GeneralKey {
		return thread.GeneralKey, ""
	}
	key = watch.KeyForPath(arg)
	if data, err := os.ReadFile(arg); err == nil {
		text = string(data)
	}
	return key, text
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace directory (default: cwd)")

	rootCmd.AddCommand(threadsCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(suggestCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
