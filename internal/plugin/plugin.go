// Package plugin defines the lifecycle contract shared by wolo's runtime
// modules and the registry that drives it.
package plugin

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/HerbHall/wolo/internal/config"
)

// Route represents an HTTP route exposed by a module.
type Route struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

// Plugin is implemented by every runtime module (pulse, wake).
type Plugin interface {
	// Name returns the module's identifier and config section, e.g. "pulse".
	Name() string

	Version() string

	// Init reads the module's settings. cfg is the whole configuration tree.
	Init(cfg *config.Config, logger *zap.Logger) error

	// Start begins background work. It must not block.
	Start(ctx context.Context) error

	// Stop halts background work and waits for it to finish.
	Stop() error

	// Routes returns the HTTP routes mounted under /api/v1/{name}.
	Routes() []Route
}
