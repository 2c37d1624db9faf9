package updater

import (
	"context"

	"github.com/caedis/wine-game-updater/internal/install"
	"github.com/caedis/wine-game-updater/internal/logging"
)

// Run performs the full install flow: prefix, game update, post-processing
// and voice packs.
func Run(ctx context.Context, opts Options) (*install.Result, error) {
	opts, err := normalizeRunOptions(opts)
	if err != nil {
		return nil, err
	}
	logRunStart(opts)

	o := newOrchestrator(opts)
	if opts.Started != nil {
		opts.Started(o)
	}
	logging.Debugf("run id=%s", o.RunID())

	if err := o.Run(ctx); err != nil {
		return nil, err
	}
	res := o.Result()
	return &res, nil
}
