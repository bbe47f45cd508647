package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"bondledger/core/events"
	"bondledger/core/state"
	"bondledger/core/types"
	"bondledger/crypto"
	nativecommon "bondledger/native/common"
	"bondledger/observability"
	telemetry "bondledger/observability/otel"
)

var (
	ErrInvalidEnvelope  = errors.New("core: invalid envelope")
	ErrInvalidSignature = errors.New("core: invalid signature")
	ErrInvalidNonce     = errors.New("core: invalid nonce")
)

type operationObserver interface {
	ObserveOperation(op string, err error, duration time.Duration)
	ObserveRejectedEnvelope(reason string)
}

// ExecutorConfig carries the optional collaborators of an Executor.
type ExecutorConfig struct {
	// Emitter receives committed events. Events of rejected operations are
	// never forwarded.
	Emitter events.Emitter
	Pauses  nativecommon.PauseView
	Now     func() time.Time
	Logger  *slog.Logger
}

// Executor applies signed envelopes one at a time. Each operation runs in
// its own state transaction and commits only when every step succeeds.
type Executor struct {
	mu      sync.Mutex
	st      *state.Manager
	emitter events.Emitter
	pauses  nativecommon.PauseView
	now     func() time.Time
	logger  *slog.Logger
	metrics operationObserver
	tracer  trace.Tracer
}

func NewExecutor(st *state.Manager, cfg ExecutorConfig) *Executor {
	x := &Executor{
		st:      st,
		emitter: cfg.Emitter,
		pauses:  cfg.Pauses,
		now:     cfg.Now,
		logger:  cfg.Logger,
		metrics: observability.Executor(),
		tracer:  telemetry.Tracer("bondledger/core"),
	}
	if x.emitter == nil {
		x.emitter = events.NoopEmitter{}
	}
	if x.now == nil {
		x.now = time.Now
	}
	if x.logger == nil {
		x.logger = slog.Default()
	}
	return x
}

func (x *Executor) modules(st *state.Manager, emitter events.Emitter) *Modules {
	return NewModules(st, ModuleOptions{Emitter: emitter, Pauses: x.pauses, Now: x.now})
}

// Apply verifies env, consumes its nonce and runs the operation. The
// returned events are those committed by the operation.
func (x *Executor) Apply(ctx context.Context, env *types.Envelope) ([]events.Event, error) {
	if env == nil {
		return nil, ErrInvalidEnvelope
	}
	ctx, span := x.tracer.Start(ctx, "executor.apply", trace.WithAttributes(
		attribute.String("ledger.op", env.Op),
		attribute.Int64("ledger.nonce", int64(env.Nonce)),
	))
	defer span.End()

	evts, err := x.apply(ctx, env)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("ledger.events", len(evts)))
	return evts, nil
}

func (x *Executor) apply(ctx context.Context, env *types.Envelope) ([]events.Event, error) {
	from, err := env.From()
	if err != nil {
		x.metrics.ObserveRejectedEnvelope("signature")
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	act, err := decode(env.Op, env.Payload)
	if err != nil {
		x.metrics.ObserveRejectedEnvelope("payload")
		return nil, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.consumeNonce(from, env.Nonce); err != nil {
		x.metrics.ObserveRejectedEnvelope("nonce")
		return nil, err
	}

	start := time.Now()
	evts, err := x.execute(from, act)
	x.metrics.ObserveOperation(env.Op, err, time.Since(start))
	if err != nil {
		x.logger.LogAttrs(ctx, slog.LevelWarn, "ledger operation rejected",
			slog.String("op", env.Op),
			slog.String("caller", from.String()),
			slog.Uint64("nonce", env.Nonce),
			slog.String("error", err.Error()))
		return nil, err
	}
	for _, evt := range evts {
		x.emitter.Emit(evt)
	}
	x.logger.LogAttrs(ctx, slog.LevelInfo, "ledger operation committed",
		slog.String("op", env.Op),
		slog.String("caller", from.String()),
		slog.Uint64("nonce", env.Nonce),
		slog.Int("events", len(evts)))
	return evts, nil
}

// consumeNonce commits the nonce on its own so that a failing operation
// still cannot be replayed.
func (x *Executor) consumeNonce(from crypto.Address, nonce uint64) error {
	txn := x.st.Begin()
	defer txn.Discard()
	stored, err := txn.Nonce(from.Bytes())
	if err != nil {
		return err
	}
	if nonce != stored+1 {
		return fmt.Errorf("%w: expected %d, got %d", ErrInvalidNonce, stored+1, nonce)
	}
	if err := txn.SetNonce(from.Bytes(), nonce); err != nil {
		return err
	}
	return txn.Commit()
}

func (x *Executor) execute(caller crypto.Address, act action) ([]events.Event, error) {
	txn := x.st.Begin()
	defer txn.Discard()
	buf := &events.Buffer{}
	if err := act(x.modules(txn, buf), caller); err != nil {
		return nil, err
	}
	staged := txn.Dirty()
	if err := txn.Commit(); err != nil {
		return nil, err
	}
	x.logger.Debug("ledger state committed", slog.Int("keys", staged))
	return buf.Events(), nil
}

// Update runs fn inside a transaction with direct access to the modules and
// the transaction state, committing when fn succeeds. It is used for genesis
// and other operator bootstrapping that is not expressed as envelopes.
func (x *Executor) Update(fn func(m *Modules, st *state.Manager) error) ([]events.Event, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	txn := x.st.Begin()
	defer txn.Discard()
	buf := &events.Buffer{}
	if err := fn(x.modules(txn, buf), txn); err != nil {
		return nil, err
	}
	if err := txn.Commit(); err != nil {
		return nil, err
	}
	evts := buf.Events()
	for _, evt := range evts {
		x.emitter.Emit(evt)
	}
	return evts, nil
}

// View runs fn against the committed state. Writes made by fn are discarded.
func (x *Executor) View(fn func(m *Modules) error) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	txn := x.st.Begin()
	defer txn.Discard()
	return fn(x.modules(txn, events.NoopEmitter{}))
}

// Nonce returns the last consumed nonce of addr.
func (x *Executor) Nonce(addr crypto.Address) (uint64, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.st.Nonce(addr.Bytes())
}
