// Package pow implements the anti-spam proof-of-work over transaction digests.
//
// A transaction carries proof of work when hashing it at its stored nonce
// yields a digest with a required number of leading '0' hex characters.
// Searchers sample nonces uniformly at random, so independent searchers (or
// the workers of one search) do not walk the same sequence.
package pow

import (
	"context"
	crand "crypto/rand"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/samuel0642/txengine/internal/logging"
	"github.com/samuel0642/txengine/internal/metrics"
	"github.com/samuel0642/txengine/internal/types"
)

// DefaultDifficulty is the number of leading zero hex characters required
const DefaultDifficulty = 4

// checkInterval is how many candidates a worker hashes between checks of
// the stop signal
const checkInterval = 256

var (
	ErrSearchCancelled = errors.New("proof-of-work search cancelled")
	ErrSearchTimeout   = errors.New("proof-of-work search timed out")
	ErrSearchExhausted = errors.New("proof-of-work search exhausted its attempt budget")
	ErrInvalidProof    = errors.New("invalid proof of work")

	errFound = errors.New("found")
)

// Solution is a nonce whose digest satisfies the difficulty predicate
type Solution struct {
	Nonce    uint64
	Digest   string
	Attempts uint64
}

// Engine searches for and verifies proofs of work
type Engine struct {
	difficulty  int
	workers     int
	maxAttempts uint64
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// Option configures an Engine
type Option func(*Engine)

// WithDifficulty sets the required number of leading zero hex characters
func WithDifficulty(d int) Option {
	return func(e *Engine) { e.difficulty = d }
}

// WithWorkers sets the number of parallel search workers
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithMaxAttempts bounds the total number of candidates a search may hash.
// Zero means unbounded.
func WithMaxAttempts(n uint64) Option {
	return func(e *Engine) { e.maxAttempts = n }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates a proof-of-work engine
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		difficulty: DefaultDifficulty,
		workers:    1,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.difficulty < 0 || e.difficulty > types.HashLength {
		return nil, fmt.Errorf("difficulty %d out of range [0,%d]", e.difficulty, types.HashLength)
	}
	if e.workers <= 0 {
		return nil, fmt.Errorf("workers must be positive, got %d", e.workers)
	}
	e.logger = logging.OrNop(e.logger).Named("pow")
	return e, nil
}

// Difficulty returns the configured difficulty
func (e *Engine) Difficulty() int {
	return e.difficulty
}

// MeetsDifficulty reports whether digest starts with difficulty '0' characters
func MeetsDifficulty(digest string, difficulty int) bool {
	if difficulty > len(digest) {
		return false
	}
	return strings.Count(digest[:difficulty], "0") == difficulty
}

// Search looks for a nonce that makes tx's digest satisfy the difficulty
// predicate. tx is not modified. The first worker to succeed stops the
// others; cancelling ctx stops all of them.
func (e *Engine) Search(ctx context.Context, tx *types.Transaction) (*Solution, error) {
	start := time.Now()
	trial := tx.Copy()

	var (
		total    atomic.Uint64
		once     sync.Once
		solution *Solution
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < e.workers; i++ {
		g.Go(func() error {
			rng, err := newRand()
			if err != nil {
				return err
			}
			for n := 0; ; n++ {
				if n%checkInterval == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				attempt := total.Add(1)
				if e.maxAttempts > 0 && attempt > e.maxAttempts {
					return ErrSearchExhausted
				}
				nonce := rng.Uint64()
				digest := trial.HashAtNonce(nonce)
				if MeetsDifficulty(digest, e.difficulty) {
					once.Do(func() {
						solution = &Solution{Nonce: nonce, Digest: digest}
					})
					return errFound
				}
			}
		})
	}
	err := g.Wait()

	attempts := total.Load()
	if e.maxAttempts > 0 && attempts > e.maxAttempts {
		attempts = e.maxAttempts
	}
	elapsed := time.Since(start)

	if solution != nil {
		solution.Attempts = attempts
		e.metrics.ObserveSearch("found", attempts, elapsed.Seconds())
		e.logger.Debug("proof of work found",
			zap.Uint64("nonce", solution.Nonce),
			zap.String("digest", solution.Digest),
			zap.Uint64("attempts", attempts),
			zap.Duration("elapsed", elapsed))
		return solution, nil
	}

	switch {
	case errors.Is(err, ErrSearchExhausted):
		e.metrics.ObserveSearch("exhausted", attempts, elapsed.Seconds())
		return nil, ErrSearchExhausted
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		e.metrics.ObserveSearch("timeout", attempts, elapsed.Seconds())
		return nil, fmt.Errorf("%w after %d attempts: %w", ErrSearchTimeout, attempts, ctx.Err())
	case ctx.Err() != nil:
		e.metrics.ObserveSearch("cancelled", attempts, elapsed.Seconds())
		return nil, fmt.Errorf("%w after %d attempts: %w", ErrSearchCancelled, attempts, ctx.Err())
	default:
		e.metrics.ObserveSearch("error", attempts, elapsed.Seconds())
		return nil, err
	}
}

// Seal runs Search and stores the solution in tx, setting Nonce, Pow and
// Hash. Any signature must be produced afterwards.
func (e *Engine) Seal(ctx context.Context, tx *types.Transaction) error {
	sol, err := e.Search(ctx, tx)
	if err != nil {
		return err
	}
	tx.Nonce = sol.Nonce
	tx.Pow = sol.Digest
	tx.Hash = sol.Digest
	return nil
}

// VerifyErr recomputes the digest at tx's stored nonce and checks that it
// equals the claimed proof and satisfies the difficulty predicate
func (e *Engine) VerifyErr(tx *types.Transaction) error {
	digest := tx.ComputeHash()
	if digest != tx.Pow {
		return fmt.Errorf("%w: digest at nonce %d does not match claimed proof", ErrInvalidProof, tx.Nonce)
	}
	if !MeetsDifficulty(digest, e.difficulty) {
		return fmt.Errorf("%w: digest %s does not meet difficulty %d", ErrInvalidProof, digest, e.difficulty)
	}
	return nil
}

// Verify reports whether tx carries a valid proof of work
func (e *Engine) Verify(tx *types.Transaction) bool {
	return e.VerifyErr(tx) == nil
}

func newRand() (*rand.Rand, error) {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("failed to seed nonce sampler: %w", err)
	}
	return rand.New(rand.NewChaCha8(seed)), nil
}
