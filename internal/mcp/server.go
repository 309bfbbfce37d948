// Package mcp provides an MCP (Model Context Protocol) server exposing the
// popgate admission engine as tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nvandessel/popgate/internal/backup"
	"github.com/nvandessel/popgate/internal/engine"
	"github.com/nvandessel/popgate/internal/logging"
	"github.com/nvandessel/popgate/internal/models"
	"github.com/nvandessel/popgate/internal/ratelimit"
)

// SettingsStore persists settings changes made through write tools.
// *store.SQLiteSettings satisfies it.
type SettingsStore interface {
	PutRule(ctx context.Context, rule models.FrequencyRule) error
	DeleteRule(ctx context.Context, popupID string, kind models.RuleKind) error
	PutPreferences(ctx context.Context, visitorID string, prefs models.Preferences) error
	SetBlocker(ctx context.Context, visitorID string, blocker bool) error
}

// Server wraps the MCP SDK server and routes tool calls to the engine.
type Server struct {
	server      *sdk.Server
	engine      *engine.Engine
	settings    SettingsStore
	limiters    ratelimit.ToolLimiters
	logger      *slog.Logger
	decisions   *logging.DecisionLogger
	audit       *AuditLogger
	snapshotDir string
	retention   backup.RetentionPolicy
}

// Config holds server configuration.
type Config struct {
	Name    string // Implementation name reported to clients
	Version string

	// Engine is required.
	Engine *engine.Engine

	// Settings, when non-nil, receives every rule, preference and blocker change.
	Settings SettingsStore

	// RateLimits enables the per-tool token buckets.
	RateLimits bool

	Logger    *slog.Logger
	Decisions *logging.DecisionLogger

	// AuditDir holds audit.jsonl. Empty disables the audit log.
	AuditDir string

	// SnapshotDir receives snapshots saved by popgate_export.
	SnapshotDir string
	Retention   backup.RetentionPolicy
}

// NewServer creates a new MCP server with popgate tools.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil || cfg.Engine == nil {
		return nil, fmt.Errorf("mcp server requires an engine")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, &sdk.ServerOptions{
		InitializedHandler: func(ctx context.Context, req *sdk.InitializedRequest) {
			logger.Debug("mcp client initialized")
		},
	})

	s := &Server{
		server:      mcpServer,
		engine:      cfg.Engine,
		settings:    cfg.Settings,
		logger:      logger,
		decisions:   cfg.Decisions,
		snapshotDir: cfg.SnapshotDir,
		retention:   cfg.Retention,
	}
	if cfg.RateLimits {
		s.limiters = ratelimit.NewToolLimiters()
	}
	if cfg.AuditDir != "" {
		s.audit = NewAuditLogger(cfg.AuditDir)
	}

	s.registerTools()
	s.registerResources()
	return s, nil
}

// Run starts the MCP server over stdio transport.
// This blocks until the client disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			s.logger.Info("shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	s.logger.Info("mcp server listening on stdio")
	return s.server.Run(ctx, &sdk.StdioTransport{})
}

// Close releases the audit log. The engine and settings store belong to the caller.
func (s *Server) Close() error {
	return s.audit.Close()
}

// registerResources registers read-only resources describing engine state.
func (s *Server) registerResources() {
	s.server.AddResource(&sdk.Resource{
		URI:         "popgate://stats",
		Name:        "popgate-stats",
		Description: "Store sizes and self-healing counters of the admission engine.",
		MIMEType:    "application/json",
	}, s.handleStatsResource)

	s.server.AddResource(&sdk.Resource{
		URI:         "popgate://rules",
		Name:        "popgate-rules",
		Description: "Every configured frequency rule, grouped by popup.",
		MIMEType:    "application/json",
	}, s.handleRulesResource)
}

func (s *Server) handleStatsResource(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
	return jsonResource("popgate://stats", s.engine.Stats())
}

func (s *Server) handleRulesResource(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
	return jsonResource("popgate://rules", s.engine.AllRules())
}

func jsonResource(uri string, v any) (*sdk.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", uri, err)
	}
	return &sdk.ReadResourceResult{
		Contents: []*sdk.ResourceContents{
			{URI: uri, MIMEType: "application/json", Text: string(data)},
		},
	}, nil
}

// parseAt parses an optional RFC 3339 timestamp. Empty means "now" (zero time).
func parseAt(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: at must be RFC 3339: %v", models.ErrInvalidArgument, err)
	}
	return t, nil
}
