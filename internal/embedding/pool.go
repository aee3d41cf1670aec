package embedding

import "context"

// Pool bounds the number of concurrent Embed calls reaching the wrapped
// provider. Callers block until a slot is free or ctx ends.
type Pool struct {
	inner Provider
	slots chan struct{}
}

// NewPool wraps p so that at most workers Embed calls run at once.
func NewPool(p Provider, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{inner: p, slots: make(chan struct{}, workers)}
}

func (p *Pool) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-p.slots }()
	return p.inner.Embed(ctx, texts)
}

func (p *Pool) Dimension() int  { return p.inner.Dimension() }
func (p *Pool) Available() bool { return p.inner.Available() }

// Close closes the wrapped provider when it holds resources.
func (p *Pool) Close() { Close(p.inner) }
