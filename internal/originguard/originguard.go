// Package originguard implements the Origin Validator: origin
// pattern matching, localhost/file/vscode-webview detection, and
// repeat-offender tracking for denied origins.
package originguard

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"
)

// Config mirrors the Origin Validator's configuration inputs.
type Config struct {
	AllowedOrigins          []string
	AllowLocalhost          bool
	AllowFileProtocol       bool
	AllowVSCodeWebview      bool
	RequireOriginHeader     bool
	LogUnauthorizedAttempts bool
	AlertThreshold          int
}

// Decision is the result of a validation call.
type Decision struct {
	Allowed        bool
	Origin         string
	MatchedPattern string
	Reason         string
}

// Guard evaluates origins against a Config and tracks repeat offenders.
type Guard struct {
	cfg     Config
	logger  *slog.Logger
	mu      sync.Mutex
	attempts map[string]int
}

func New(cfg Config, logger *slog.Logger) *Guard {
	if cfg.AlertThreshold <= 0 {
		cfg.AlertThreshold = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{cfg: cfg, logger: logger, attempts: make(map[string]int)}
}

// Validate applies the decision order: missing origin → allow iff
// RequireOriginHeader=false; localhost; file://; vscode-webview://; else
// pattern match; else deny.
func (g *Guard) Validate(origin string) Decision {
	if origin == "" {
		if g.cfg.RequireOriginHeader {
			return g.deny(origin, "origin header required but absent")
		}
		return Decision{Allowed: true, Origin: origin, Reason: "no origin header, not required"}
	}

	if g.cfg.AllowLocalhost && isLocalhost(origin) {
		return Decision{Allowed: true, Origin: origin, Reason: "localhost"}
	}
	if g.cfg.AllowFileProtocol && strings.HasPrefix(origin, "file://") {
		return Decision{Allowed: true, Origin: origin, Reason: "file protocol"}
	}
	if g.cfg.AllowVSCodeWebview && strings.HasPrefix(origin, "vscode-webview://") {
		return Decision{Allowed: true, Origin: origin, Reason: "vscode webview"}
	}

	for _, pattern := range g.cfg.AllowedOrigins {
		if matchPattern(pattern, origin) {
			return Decision{Allowed: true, Origin: origin, MatchedPattern: pattern, Reason: "pattern match"}
		}
	}

	return g.deny(origin, "no allow rule matched")
}

func (g *Guard) deny(origin, reason string) Decision {
	if g.cfg.LogUnauthorizedAttempts {
		g.mu.Lock()
		g.attempts[origin]++
		count := g.attempts[origin]
		g.mu.Unlock()

		g.logger.Warn("origin denied", "origin", origin, "reason", reason, "attempts", count)
		if count >= g.cfg.AlertThreshold {
			g.logger.Error("repeated unauthorized origin attempts", "origin", origin, "attempts", count)
		}
	}
	return Decision{Allowed: false, Origin: origin, Reason: reason}
}

// AttemptCount returns the current unauthorized-attempt count for an
// origin. Only mutated by deny(); reset only via ResetAttempts (explicit
// admin action, per the data model's "Origin Attempt Counter").
func (g *Guard) AttemptCount(origin string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attempts[origin]
}

// ResetAttempts clears the counter for a single origin.
func (g *Guard) ResetAttempts(origin string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.attempts, origin)
}

func isLocalhost(origin string) bool {
	lower := strings.ToLower(origin)
	return strings.Contains(lower, "localhost") ||
		strings.Contains(lower, "127.0.0.1") ||
		strings.Contains(lower, "[::1]")
}

// matchPattern supports '*' as a greedy wildcard over any characters;
// all other regex metacharacters in pattern are escaped so origins are
// compared literally outside of '*'.
func matchPattern(pattern, origin string) bool {
	if pattern == origin {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return false
	}
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re, err := regexp.Compile("^" + strings.Join(parts, ".*") + "$")
	if err != nil {
		return false
	}
	return re.MatchString(origin)
}
