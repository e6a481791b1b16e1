// Package config loads the proxy's runtime settings: the fake-tool-calling
// flags named by the original environment, plus the operational knobs a
// standalone server process needs. Settings come from (in increasing
// precedence) defaults, an optional config file, and environment variables,
// with the config file watched for live edits.
package config

import (
	"errors"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Settings is the full set of values the server reads at startup and, for
// the fields marked "hot", on every request. LogLevel and WebSearchEngine
// are re-read on a config file change as well, but the logger and the
// web_search tool keep the values they were built with at startup.
type Settings struct {
	LogLevel      string
	FakeAllModel  bool          // hot
	NoFakeModels  []string      // hot
	WebSearchEngine string

	ListenAddr                 string
	UpstreamTimeout            time.Duration
	ToolWorkerPoolSize         int
	MaxToolCallIterations      int
	ChatProxyCacheTTL          time.Duration
	ToolCallsInProcessCacheTTL time.Duration
	ToolsDir                   string
	MetricsAddr                string
	LogFile                    string
}

func defaults() Settings {
	return Settings{
		LogLevel:                   "info",
		FakeAllModel:               false,
		WebSearchEngine:            "bing",
		ListenAddr:                 ":8000",
		UpstreamTimeout:            600 * time.Second,
		ToolWorkerPoolSize:         5,
		MaxToolCallIterations:      10,
		ChatProxyCacheTTL:          5 * time.Minute,
		ToolCallsInProcessCacheTTL: 60 * time.Second,
		ToolsDir:                   "./tools",
	}
}

// Manager owns the viper instance and the currently loaded Settings, and
// notifies subscribers when the config file (not env vars) changes.
type Manager struct {
	v  *viper.Viper
	mu sync.RWMutex
	s  Settings
}

// NewManager loads .env, then builds a viper-backed Manager reading
// configPath (if it exists) plus environment variables. configPath may be
// empty, in which case only env vars and defaults apply.
func NewManager(configPath string) (*Manager, error) {
	_ = godotenv.Load()

	v := viper.New()
	d := defaults()

	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("fake_all_model", d.FakeAllModel)
	v.SetDefault("no_fake_models", "")
	v.SetDefault("web_search_engine", d.WebSearchEngine)
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("upstream_timeout_seconds", int(d.UpstreamTimeout.Seconds()))
	v.SetDefault("tool_worker_pool_size", d.ToolWorkerPoolSize)
	v.SetDefault("max_tool_call_iterations", d.MaxToolCallIterations)
	v.SetDefault("chat_proxy_cache_ttl_seconds", int(d.ChatProxyCacheTTL.Seconds()))
	v.SetDefault("toolcalls_in_process_ttl_seconds", int(d.ToolCallsInProcessCacheTTL.Seconds()))
	v.SetDefault("tools_dir", d.ToolsDir)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log_file", "")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
	}

	m := &Manager{v: v}
	m.reload()
	return m, nil
}

// Watch starts watching the config file, if one was set. On every change it
// re-reads all settings into the Manager and passes the new snapshot to
// onChange.
func (m *Manager) Watch(onChange func(Settings)) {
	if m.v.ConfigFileUsed() == "" {
		return
	}
	m.v.OnConfigChange(func(e fsnotify.Event) {
		m.reload()
		if onChange != nil {
			onChange(m.Get())
		}
	})
	m.v.WatchConfig()
}

func (m *Manager) reload() {
	s := defaults()
	s.LogLevel = m.v.GetString("log_level")
	s.FakeAllModel = m.v.GetBool("fake_all_model")
	s.NoFakeModels = splitCSV(m.v.GetString("no_fake_models"))
	s.WebSearchEngine = m.v.GetString("web_search_engine")
	s.ListenAddr = m.v.GetString("listen_addr")
	s.UpstreamTimeout = time.Duration(m.v.GetInt("upstream_timeout_seconds")) * time.Second
	s.ToolWorkerPoolSize = m.v.GetInt("tool_worker_pool_size")
	s.MaxToolCallIterations = m.v.GetInt("max_tool_call_iterations")
	s.ChatProxyCacheTTL = time.Duration(m.v.GetInt("chat_proxy_cache_ttl_seconds")) * time.Second
	s.ToolCallsInProcessCacheTTL = time.Duration(m.v.GetInt("toolcalls_in_process_ttl_seconds")) * time.Second
	s.ToolsDir = m.v.GetString("tools_dir")
	s.MetricsAddr = m.v.GetString("metrics_addr")
	s.LogFile = m.v.GetString("log_file")

	m.mu.Lock()
	m.s = s
	m.mu.Unlock()
}

// Get returns a snapshot of the current settings.
func (m *Manager) Get() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// RewriteEnabled reports whether the fake-tool-calling pipeline should run
// for model (checked against the pre-strip model string, before routing
// prefixes are removed): true when FakeAllModel is set, or whenever the
// model is not one of the explicitly excluded NoFakeModels.
func (s Settings) RewriteEnabled(model string) bool {
	if s.FakeAllModel {
		return true
	}
	for _, excluded := range s.NoFakeModels {
		if excluded == model {
			return false
		}
	}
	return true
}
