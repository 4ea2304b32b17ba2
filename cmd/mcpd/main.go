// Command mcpd runs the MCP + Mission-Control transport core: it loads
// configuration, wires the transports, dispatcher, session store, event
// log, and channel plumbing together against a pluggable Engine, and
// serves either the Stdio MCP Transport or the combined HTTP MCP +
// Mission-Control WS transports, chosen by --transport or auto-detected
// from whether stdin is a terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/oneagent/mcp-transport-core/internal/audit"
	"github.com/oneagent/mcp-transport-core/internal/channel"
	"github.com/oneagent/mcp-transport-core/internal/channels"
	"github.com/oneagent/mcp-transport-core/internal/config"
	"github.com/oneagent/mcp-transport-core/internal/dispatch"
	"github.com/oneagent/mcp-transport-core/internal/engine"
	"github.com/oneagent/mcp-transport-core/internal/eventlog"
	"github.com/oneagent/mcp-transport-core/internal/httptransport"
	"github.com/oneagent/mcp-transport-core/internal/logging"
	"github.com/oneagent/mcp-transport-core/internal/metrics"
	"github.com/oneagent/mcp-transport-core/internal/mission"
	"github.com/oneagent/mcp-transport-core/internal/oauth"
	"github.com/oneagent/mcp-transport-core/internal/originguard"
	"github.com/oneagent/mcp-transport-core/internal/redact"
	"github.com/oneagent/mcp-transport-core/internal/session"
	"github.com/oneagent/mcp-transport-core/internal/stdiotransport"
	"github.com/oneagent/mcp-transport-core/internal/subscription"
	"github.com/oneagent/mcp-transport-core/internal/validate"
	"github.com/oneagent/mcp-transport-core/internal/wstransport"
)

const serverVersion = "0.1.0"

func main() {
	configPath := flag.String("config", "./config.yaml", "Path to YAML or JSON config")
	transportFlag := flag.String("transport", "auto", "Transport: stdio, http, or auto (detect from stdin)")
	flag.Parse()

	logger := slog.Default()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg = &config.Config{}
			cfg.ApplyDefaults()
		} else {
			fmt.Fprintf(os.Stderr, "config load: %v\n", err)
			os.Exit(1)
		}
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		fmt.Fprintf(os.Stderr, "config env override: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config validate: %v\n", err)
		os.Exit(1)
	}

	logger = logging.Setup(cfg.Logging.Format, cfg.Logging.Level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	redactor := redact.NewRedactor()
	redactor.AddSecrets(cfg.Redact.Secrets)

	sessions := session.New(
		time.Duration(cfg.Session.TTLSeconds)*time.Second,
		time.Duration(cfg.Session.ReapIntervalSecs)*time.Second,
		logger,
	)
	defer sessions.Close()

	events := eventlog.New(cfg.Events.MaxEventsPerSession)

	origin := originguard.New(originguard.Config{
		AllowedOrigins:          cfg.Origin.AllowedOrigins,
		AllowLocalhost:          cfg.Origin.AllowLocalhost,
		AllowFileProtocol:       cfg.Origin.AllowFileProtocol,
		AllowVSCodeWebview:      cfg.Origin.AllowVSCodeWebview,
		RequireOriginHeader:     cfg.Origin.RequireOriginHeader,
		LogUnauthorizedAttempts: cfg.Origin.LogUnauthorizedAttempts,
		AlertThreshold:          cfg.Origin.AlertThreshold,
	}, logger)

	validator := validate.New(logger)
	channelRegistry := channel.NewRegistry()
	if err := channelRegistry.Register(&channel.Channel{Name: "engine_events"}); err != nil {
		logger.Error("register engine_events channel", "error", err)
		os.Exit(1)
	}
	subs := subscription.New(channelRegistry, logger)

	var oauthStore *oauth.Store
	caps := dispatch.Capabilities{
		ToolsListChanged:     true,
		ResourcesListChanged: true,
		ResourcesSubscribe:   true,
		ResourceTemplates:    true,
		PromptsListChanged:   true,
		ToolSetsAdvertised:   true,
		SamplingEnabled:      true,
	}
	if cfg.OAuth != nil {
		oauthStore = oauth.NewStore()
		caps.OAuthAuthorizationURL = cfg.OAuth.AuthorizationURL
		caps.OAuthTokenURL = cfg.OAuth.TokenURL
		caps.OAuthScopes = cfg.OAuth.Scopes
	}

	eng := engine.Engine(engine.Noop{})
	if err := eng.Initialize(ctx, *transportFlag); err != nil {
		logger.Error("engine initialize", "error", err)
		os.Exit(1)
	}
	defer eng.Shutdown(context.Background())

	metricsCollector := metrics.NewCollector()

	var auditLogger *audit.Logger
	if cfg.Audit.Enabled {
		auditLogger, err = audit.NewLogger(cfg.Audit.DBPath)
		if err != nil {
			logger.Error("audit logger init failed, continuing without audit sink", "error", err)
			auditLogger = nil
		} else {
			defer auditLogger.Close()
		}
	}

	serverInfo := dispatch.ServerInfo{Name: "mcp-transport-core", Version: serverVersion}
	dispatcher := dispatch.New(eng, cfg.HTTP.ProtocolVersion, serverInfo, caps, oauthStore, redactor, metricsCollector, auditLogger, logger)

	missionExec := mission.New(eng, mission.Config{
		MissionStartRPM:     cfg.WS.MissionStartRPM,
		EngineFailThreshold: cfg.WS.EngineFailThreshold,
		EngineCooldownSecs:  cfg.WS.EngineCooldownSecs,
	}, auditLogger, metricsCollector, logger)

	httpTransport := httptransport.New(dispatcher, sessions, events, origin, httptransport.Config{
		ProtocolVersion:     cfg.HTTP.ProtocolVersion,
		RequestTimeout:      time.Duration(cfg.HTTP.RequestTimeoutSecs) * time.Second,
		MaxRequestBodyBytes: cfg.HTTP.MaxRequestBodyBytes,
		HeartbeatInterval:   time.Duration(cfg.HTTP.HeartbeatSeconds) * time.Second,
		ServerName:          serverInfo.Name,
		ServerVersion:       serverInfo.Version,
	}, metricsCollector, auditLogger, logger)

	wsServer := wstransport.New(wstransport.Config{
		Path:              cfg.WS.Path,
		HeartbeatInterval: time.Duration(cfg.WS.HeartbeatSeconds) * time.Second,
		ProtocolVersion:   cfg.HTTP.ProtocolVersion,
		Info:              wstransport.Info{Name: serverInfo.Name, Version: serverInfo.Version},
	}, origin, validator, channelRegistry, subs, missionExec, metricsCollector, auditLogger, logger)

	eng.On(engine.EventToolsChanged, engineChangeHandler(httpTransport, wsServer, "toolsChanged"))
	eng.On(engine.EventResourcesChanged, engineChangeHandler(httpTransport, wsServer, "resourcesChanged"))
	eng.On(engine.EventPromptsChanged, engineChangeHandler(httpTransport, wsServer, "promptsChanged"))

	if !cfg.DisableAutoMonitoring {
		if err := channels.RegisterBuiltins(ctx, channelRegistry, wsServer, sessions, metricsCollector, auditLogger, channels.Config{}, logger); err != nil {
			logger.Error("register built-in channels", "error", err)
			os.Exit(1)
		}
	}

	mode := *transportFlag
	if mode == "auto" {
		if term.IsTerminal(int(os.Stdin.Fd())) {
			mode = "http"
		} else {
			mode = "stdio"
		}
	}

	switch mode {
	case "stdio":
		stdio := stdiotransport.New(dispatcher, logger)
		logger.Info("serving stdio transport")
		if err := stdio.Serve(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, io.EOF) {
			logger.Error("stdio transport error", "error", err)
			os.Exit(1)
		}
	case "http":
		mux := http.NewServeMux()
		mux.Handle("/", httpTransport.Handler())
		mux.Handle(cfg.WS.Path, wsServer.Handler())

		addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
		srv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		logger.Info("serving http + mission-control transports", "addr", addr, "ws_path", cfg.WS.Path)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown transport %q\n", mode)
		os.Exit(1)
	}
}

// engineChangeHandler broadcasts an engine change notification to every
// live SSE stream and every Mission-Control WS connection subscribed to
// the engine_events channel, §4.6 Channel Registry).
func engineChangeHandler(http *httptransport.Transport, ws *wstransport.Server, eventType string) engine.Handler {
	return func(engine.Event) {
		http.BroadcastEvent(eventType, []byte(`{"jsonrpc":"2.0","method":"notifications/`+eventType+`"}`))
		ws.Publish("engine_events", map[string]any{"event": eventType})
	}
}
