package publisher

import (
	"Go2NetStats/internal/model"
	"context"
	"fmt"
	"strings"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Multi fans a delta out to several publishers concurrently.
type Multi struct {
	pubs []model.Publisher
}

// NewMulti wraps pubs into a single publisher.
func NewMulti(pubs ...model.Publisher) *Multi {
	return &Multi{pubs: pubs}
}

func (p *Multi) Name() string {
	names := make([]string, len(p.pubs))
	for i, pub := range p.pubs {
		names[i] = pub.Name()
	}
	return "multi(" + strings.Join(names, ",") + ")"
}

// Publish hands d to every publisher. A failing publisher does not prevent the
// others from receiving the delta; all failures are combined in the result.
func (p *Multi) Publish(ctx context.Context, d model.Delta) error {
	var g errgroup.Group
	errs := make([]error, len(p.pubs))
	for i, pub := range p.pubs {
		g.Go(func() error {
			if err := pub.Publish(ctx, d); err != nil {
				errs[i] = fmt.Errorf("%s: %w", pub.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return multierr.Combine(errs...)
}

// Close closes every publisher and combines their errors.
func (p *Multi) Close() error {
	return closeAll(p.pubs)
}
