// Package postprocess applies the file-level changes an update archive asks
// for after it has been unpacked.
package postprocess

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/caedis/wine-game-updater/internal/install"
	"github.com/caedis/wine-game-updater/internal/logging"
)

// Unit is one post-processing step over the game directory. Units must be
// safe to re-run after an interruption.
type Unit interface {
	Name() string
	Run(ctx context.Context, gameDir string) error
}

const defaultLimit = 2

// Pipeline runs its units and joins on all of them. A failing unit does not
// stop its siblings.
type Pipeline struct {
	Units []Unit
	// Sequential runs one unit at a time.
	Sequential bool
}

// New returns the standard pipeline: apply patches and remove outdated files.
func New(p Patcher, sequential bool) *Pipeline {
	return &Pipeline{
		Units:      []Unit{&ApplyChanges{Patcher: p}, &RemoveOutdated{}},
		Sequential: sequential,
	}
}

func (p *Pipeline) Run(ctx context.Context, ic *install.Context) error {
	var (
		g      errgroup.Group
		mu     sync.Mutex
		merr   *multierror.Error
		failed []string
	)
	limit := defaultLimit
	if p.Sequential {
		limit = 1
	}
	g.SetLimit(limit)

	for _, u := range p.Units {
		g.Go(func() error {
			start := time.Now()
			err := u.Run(ctx, ic.GameDir)
			if err != nil {
				mu.Lock()
				merr = multierror.Append(merr, fmt.Errorf("%s: %w", u.Name(), err))
				failed = append(failed, u.Name())
				mu.Unlock()
				return nil
			}
			logging.Debugf("post-processing unit %s finished in %s", u.Name(), time.Since(start).Round(time.Millisecond))
			return nil
		})
	}
	// Units report through merr and always return nil; the group only bounds concurrency.
	_ = g.Wait()

	if merr == nil {
		return nil
	}
	sort.Strings(failed)
	merr.ErrorFormat = joinErrors
	return &install.PostProcessingError{Units: failed, Err: merr.ErrorOrNil()}
}

func joinErrors(errs []error) string {
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	sort.Strings(msgs)
	return strings.Join(msgs, "; ")
}
