package solver

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
)

// Pool is a fixed set of Solvers checked out for one unit of work at a time
type Pool struct {
	free chan *Solver
	size int
}

// NewPool allocates size solvers up front
func NewPool(size int) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("solver pool size must be positive, got %d", size)
	}
	p := &Pool{
		free: make(chan *Solver, size),
		size: size,
	}
	for i := 0; i < size; i++ {
		s, err := New(i)
		if err != nil {
			return nil, multierr.Append(err, p.Drain())
		}
		p.free <- s
	}
	return p, nil
}

// Size returns the pool capacity
func (p *Pool) Size() int { return p.size }

// Len returns how many solvers are idle
func (p *Pool) Len() int { return len(p.free) }

// Acquire checks out a solver, waiting until one is free or ctx ends
func (p *Pool) Acquire(ctx context.Context) (*Solver, error) {
	select {
	case s := <-p.free:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a solver to the pool
func (p *Pool) Release(s *Solver) {
	if s == nil {
		return
	}
	select {
	case p.free <- s:
	default:
		// more releases than capacity means a solver was returned twice
		panic(fmt.Sprintf("solver %d released into a full pool", s.id))
	}
}

// Drain closes every idle solver. All solvers are closed even when some fail;
// the failures are combined into the returned error.
func (p *Pool) Drain() error {
	var err error
	for {
		select {
		case s := <-p.free:
			err = multierr.Append(err, s.Close())
		default:
			return err
		}
	}
}
