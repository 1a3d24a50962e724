package kernel

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/wckdouglas/rodeo/internal/shared/errs"
	"github.com/wckdouglas/rodeo/internal/shared/types"
)

// BuiltinPrefix marks commands resolved to in-process runtimes instead of
// subprocesses, e.g. "builtin:js".
const BuiltinPrefix = "builtin:"

// BuiltinFunc constructs an in-process kernel for a builtin command.
type BuiltinFunc func(ctx context.Context, opts types.LaunchOptions) (Client, error)

// Launcher is the default Factory: subprocess kernels for real commands,
// optional in-process runtimes for builtin ones.
type Launcher struct {
	cfg     Config
	logger  *zap.Logger
	builtin BuiltinFunc
}

var _ Factory = (*Launcher)(nil)

// NewLauncher creates a launcher. builtin may be nil, which rejects
// builtin commands.
func NewLauncher(cfg Config, logger *zap.Logger, builtin BuiltinFunc) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{cfg: cfg, logger: logger, builtin: builtin}
}

// Launch starts the kernel selected by opts.Cmd and blocks until ready.
func (l *Launcher) Launch(ctx context.Context, opts types.LaunchOptions) (Client, error) {
	if strings.HasPrefix(opts.Cmd, BuiltinPrefix) {
		if l.builtin == nil {
			return nil, errs.InvalidArgumentf("builtin runtime %q not enabled", opts.Cmd)
		}
		return l.builtin(ctx, opts)
	}
	return Launch(ctx, opts, l.cfg, l.logger)
}
