package gtp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
)

var ErrPoolClosed = errors.New("gtp pool closed")

type PoolConfig struct {
	BinaryPath string
	Args       []string
	// Size caps the number of engine processes. Zero picks a value from
	// the CPU count.
	Size int
}

// Pool shares warm engine processes across every level. GTP engines are
// re-levelled in place and every genmove reloads the whole position, so any
// idle process can serve any request.
type Pool struct {
	binaryPath string
	args       []string

	// a token in slots is one live process
	slots chan struct{}
	idle  chan *Session

	mu     sync.Mutex
	closed bool
}

func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.BinaryPath == "" {
		return nil, fmt.Errorf("binary path required")
	}
	if _, err := os.Stat(cfg.BinaryPath); err != nil {
		return nil, fmt.Errorf("gtp engine binary check: %w", err)
	}
	size := cfg.Size
	if size <= 0 {
		size = min(max(runtime.NumCPU(), 2), 4)
	}
	return &Pool{
		binaryPath: cfg.BinaryPath,
		args:       append([]string(nil), cfg.Args...),
		slots:      make(chan struct{}, size),
		idle:       make(chan *Session, size),
	}, nil
}

// Acquire returns a process playing at level, starting one while the pool
// is below its size and otherwise waiting for a release.
func (p *Pool) Acquire(ctx context.Context, level int) (*Session, error) {
	if level < 0 || level > maxLevel {
		return nil, fmt.Errorf("level %d out of range 0-%d", level, maxLevel)
	}
	for {
		if p.isClosed() {
			return nil, ErrPoolClosed
		}
		select {
		case s := <-p.idle:
			if p.ready(ctx, s, level) {
				return s, nil
			}
			continue
		default:
		}

		select {
		case s := <-p.idle:
			if p.ready(ctx, s, level) {
				return s, nil
			}
		case p.slots <- struct{}{}:
			s, err := NewSession(ctx, p.binaryPath, p.args)
			if err != nil {
				<-p.slots
				return nil, err
			}
			if err := s.SetLevel(ctx, level); err != nil {
				p.discard(s)
				return nil, err
			}
			return s, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// ready revives an idle process for level; a process that stopped
// answering is discarded.
func (p *Pool) ready(ctx context.Context, s *Session, level int) bool {
	if err := s.EnsureReady(ctx); err != nil {
		p.discard(s)
		return false
	}
	if err := s.SetLevel(ctx, level); err != nil {
		p.discard(s)
		return false
	}
	return true
}

// Release hands s back. A non-nil err discards it since the process may be
// out of step with the protocol.
func (p *Pool) Release(s *Session, err error) {
	if s == nil {
		return
	}
	if err != nil || p.isClosed() {
		p.discard(s)
		return
	}
	select {
	case p.idle <- s:
	default:
		p.discard(s)
	}
}

func (p *Pool) discard(s *Session) {
	_ = s.Close()
	<-p.slots
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close stops idle processes. Processes still lent out stop on Release.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	var errs []error
	for {
		select {
		case s := <-p.idle:
			if err := s.Close(); err != nil {
				errs = append(errs, err)
			}
			<-p.slots
		default:
			return errors.Join(errs...)
		}
	}
}
