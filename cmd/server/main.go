package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	openai "github.com/meguminnnnnnnnn/go-openai"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gchuyun/function-server/internal/cache"
	"github.com/gchuyun/function-server/internal/chatwire"
	"github.com/gchuyun/function-server/internal/config"
	"github.com/gchuyun/function-server/internal/logging"
	"github.com/gchuyun/function-server/internal/proxy"
	"github.com/gchuyun/function-server/internal/toolregistry"
	"github.com/gchuyun/function-server/internal/toolregistry/builtin"
	"github.com/gchuyun/function-server/internal/toolregistry/plugins"
)

var configPath string

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "function-server",
		Short: "A transparent chat-completions proxy that fakes tool calling for models that don't support it natively.",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file (optional; env vars and defaults apply otherwise)")

	root.AddCommand(newServeCommand())
	root.AddCommand(newToolsCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("function-server (dev)")
			return nil
		},
	}
}

func newToolsCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "tools", Short: "Inspect the locally registered tools"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every tool the server would register at startup",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := config.NewManager(configPath)
			if err != nil {
				return err
			}
			settings := manager.Get()

			registry := buildRegistry(settings)
			for _, d := range registry.ListDescriptors() {
				if d.Function == nil {
					continue
				}
				fmt.Printf("%s\t%s\n", d.Function.Name, d.Function.Description)
			}
			return nil
		},
	})
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	manager, err := config.NewManager(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	settings := manager.Get()

	logCfg := logging.DefaultConfig()
	logCfg.Level = settings.LogLevel
	logCfg.File = settings.LogFile
	logger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	registry := buildRegistry(settings)

	watcherCtx, cancelWatcher := context.WithCancel(context.Background())
	defer cancelWatcher()
	if loader, err := plugins.NewLoader(settings.ToolsDir); err != nil {
		logger.Warn("plugin tool discovery disabled", zap.Error(err))
	} else if watcher, err := plugins.NewWatcher(loader, registry); err != nil {
		logger.Warn("plugin tool watcher disabled", zap.Error(err))
	} else {
		go watcher.Run(watcherCtx)
	}

	deps := proxy.Deps{
		Registry:       registry,
		InProcess:      cache.New[string, *proxy.Batch](settings.ToolCallsInProcessCacheTTL),
		HTTPClient:     &http.Client{Timeout: settings.UpstreamTimeout},
		RewriteEnabled: func(model string) bool { return manager.Get().RewriteEnabled(model) },
		Now:            time.Now,
	}

	fe := proxy.NewFrontend(deps, settings.ChatProxyCacheTTL, logger)

	manager.Watch(func(updated config.Settings) {
		logger.Info("config reloaded",
			zap.String("log_level", updated.LogLevel),
			zap.Bool("fake_all_model", updated.FakeAllModel),
			zap.Strings("no_fake_models", updated.NoFakeModels))
	})

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	if settings.MetricsAddr == "" {
		router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}
	router.HandleFunc("/tools", toolsHandler(registry)).Methods(http.MethodGet)
	router.HandleFunc("/toolcalls", toolCallsHandler(registry)).Methods(http.MethodPost)
	router.PathPrefix("/").Handler(fe)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(router)

	srv := &http.Server{
		Addr:         settings.ListenAddr,
		Handler:      corsHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: settings.UpstreamTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var metricsSrv *http.Server
	if settings.MetricsAddr != "" {
		metricsRouter := mux.NewRouter()
		metricsRouter.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: settings.MetricsAddr, Handler: metricsRouter}
		go func() {
			logger.Info("metrics listening", zap.String("addr", settings.MetricsAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	go func() {
		logger.Info("proxy listening", zap.String("addr", settings.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// toolsHandler implements GET /tools: the registered tools' descriptors,
// the same list the fake-tool-calling prompt and the upstream's native
// `tools` field are built from.
func toolsHandler(registry *toolregistry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(registry.ListDescriptors()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// toolCallsHandler implements POST /toolcalls: a client-driven way to run a
// batch of tool calls directly, outside the chat-completions loop. Known
// calls run concurrently on the registry's worker pool; calls naming a
// tool the registry doesn't have are echoed back unexecuted.
func toolCallsHandler(registry *toolregistry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var calls []openai.ToolCall
		if err := json.NewDecoder(r.Body).Decode(&calls); err != nil {
			http.Error(w, "invalid tool call list", http.StatusBadRequest)
			return
		}

		results, unknown := registry.InvokeAll(r.Context(), calls)
		if results == nil {
			results = []chatwire.ToolCallResult{}
		}
		if unknown == nil {
			unknown = []openai.ToolCall{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"results":            results,
			"unknown_tool_calls": unknown,
		})
	}
}

func buildRegistry(settings config.Settings) *toolregistry.Registry {
	registry := toolregistry.New(settings.ToolWorkerPoolSize)
	registry.Register(builtin.Now(time.Now))
	registry.Register(builtin.WebSearch(func() string { return settings.WebSearchEngine }, nil))
	registry.Register(builtin.RunInSandbox())

	if loader, err := plugins.NewLoader(settings.ToolsDir); err == nil {
		tools, _ := loader.Load()
		for _, t := range tools {
			registry.Register(t)
		}
	}
	return registry
}
