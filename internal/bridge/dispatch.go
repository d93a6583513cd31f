// Package bridge implements the query bridge: operation dispatch, parameter
// resolution, the query and control handlers, and the response envelope.
//
// Every request goes through Dispatcher.Dispatch, which selects the handler
// for the operation, runs it in the single execution slot, and converts the
// outcome into an Envelope. Errors never escape as Go errors or panics.
package bridge

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/binbridge/binbridge/internal/engine"
	"github.com/binbridge/binbridge/internal/session"
)

// Host is the process that embeds the bridge. Shutdown is called once by
// the terminate operation after the session has ended.
type Host interface {
	Shutdown()
}

// HostFunc adapts a function to Host.
type HostFunc func()

// Shutdown calls f.
func (f HostFunc) Shutdown() { f() }

// Env is the context threaded through every handler.
type Env struct {
	Session  *session.Session
	Resolver *Resolver
	Host     Host
	Logger   zerolog.Logger
}

// Engine returns the session engine, or a NotReady error after terminate.
func (e *Env) Engine() (engine.Engine, error) {
	eng, err := e.Session.Engine()
	if err != nil {
		return nil, classify(err)
	}
	return eng, nil
}

// HandlerFunc answers one operation.
type HandlerFunc func(ctx context.Context, env *Env, req *Request) (any, error)

// Config tunes the dispatcher.
type Config struct {
	// SerializeAll disables the lock bypass for cheap operations even when
	// the engine supports concurrent reads.
	SerializeAll bool

	// Audit logs one line per dispatched request.
	Audit bool

	// EnabledOperations optionally restricts the operations served.
	// If empty, all operations are enabled.
	EnabledOperations []string
}

// Dispatcher routes requests to handlers.
type Dispatcher struct {
	env     *Env
	cfg     Config
	logger  zerolog.Logger
	table   [opCount]HandlerFunc
	enabled [opCount]bool
	bypass  bool
	// slot is the execution lock. Blocked senders are queued FIFO by the
	// runtime, which gives arrival-order processing.
	slot chan struct{}
}

// NewDispatcher builds the dispatch table for sess.
func NewDispatcher(sess *session.Session, host Host, cfg Config, logger zerolog.Logger) (*Dispatcher, error) {
	eng, err := sess.Engine()
	if err != nil {
		return nil, fmt.Errorf("cannot dispatch for session %s: %w", sess.ID(), err)
	}
	if host == nil {
		host = HostFunc(func() {})
	}

	logger = logger.With().Str("component", "dispatch").Logger()
	d := &Dispatcher{
		env: &Env{
			Session:  sess,
			Resolver: NewResolver(eng),
			Host:     host,
			Logger:   logger,
		},
		cfg:    cfg,
		logger: logger,
		slot:   make(chan struct{}, 1),
	}

	d.table = [opCount]HandlerFunc{
		OpStrings:            handleStrings,
		OpSegments:           handleSegments,
		OpProcedures:         handleProcedures,
		OpProcedureSignature: handleProcedureSignature,
		OpDecompile:          handleDecompile,
		OpDisassemble:        handleDisassemble,
		OpAllPseudocode:      handleAllPseudocode,
		OpFilePath:           handleFilePath,
		OpStatus:             handleStatus,
		OpXrefs:              handleXrefs,
		OpLogMessages:        handleLogMessages,
		OpTerminate:          handleTerminate,
	}

	for op := Operation(0); op < opCount; op++ {
		d.enabled[op] = len(cfg.EnabledOperations) == 0
	}
	for _, name := range cfg.EnabledOperations {
		op, err := ParseOperation(name)
		if err != nil {
			return nil, fmt.Errorf("invalid enabled operation: %w", err)
		}
		d.enabled[op] = true
	}

	if cr, ok := eng.(engine.ConcurrentReader); ok && cr.ConcurrentReads() && !cfg.SerializeAll {
		d.bypass = true
	}

	logger.Debug().
		Bool("bypass_cheap_reads", d.bypass).
		Int("enabled_operations", d.countEnabled()).
		Msg("Dispatch table built")

	return d, nil
}

func (d *Dispatcher) countEnabled() int {
	n := 0
	for _, on := range d.enabled {
		if on {
			n++
		}
	}
	return n
}

// Enabled reports whether op is served.
func (d *Dispatcher) Enabled(op Operation) bool {
	return op.valid() && d.enabled[op]
}

// Session returns the session the dispatcher serves.
func (d *Dispatcher) Session() *session.Session { return d.env.Session }

// Dispatch resolves name and runs its handler.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, params Params, body []byte) Envelope {
	op, err := ParseOperation(name)
	if err != nil {
		d.audit("", name, time.Now(), classify(err))
		return Failure(err)
	}
	return d.Do(ctx, &Request{Operation: op, Params: params, Body: body})
}

// Do runs an already-parsed request.
func (d *Dispatcher) Do(ctx context.Context, req *Request) Envelope {
	start := time.Now()
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Params == nil {
		req.Params = Params{}
	}

	if !d.Enabled(req.Operation) {
		err := newError(KindUnknownOperation, "operation %q is not enabled", req.Operation)
		d.audit(req.ID, req.Operation.String(), start, err)
		return Failure(err)
	}

	if !(d.bypass && operations[req.Operation].cheap) {
		select {
		case d.slot <- struct{}{}:
			defer func() { <-d.slot }()
		case <-ctx.Done():
			err := NotReady("request abandoned while queued: %v", ctx.Err())
			d.audit(req.ID, req.Operation.String(), start, err)
			return Failure(err)
		}
	}

	result, err := d.run(context.WithoutCancel(ctx), req)
	d.audit(req.ID, req.Operation.String(), start, classify(err))
	if err != nil {
		return Failure(err)
	}
	return Success(result)
}

// run invokes the handler, turning panics into engine failures.
func (d *Dispatcher) run(ctx context.Context, req *Request) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Str("request_id", req.ID).
				Str("operation", req.Operation.String()).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Handler panicked")
			result = nil
			err = newError(KindEngineFailure, "internal error while handling %s: %v", req.Operation, r)
		}
	}()
	return d.table[req.Operation](ctx, d.env, req)
}

// audit logs a request outcome if auditing is enabled.
func (d *Dispatcher) audit(requestID, operation string, start time.Time, err *Error) {
	if !d.cfg.Audit {
		return
	}

	event := d.logger.Info()
	if err != nil {
		event = d.logger.Warn().Str("error_kind", string(err.Kind)).Str("error", err.Message)
	}
	event.
		Str("request_id", requestID).
		Str("operation", operation).
		Bool("ok", err == nil).
		Dur("duration", time.Since(start)).
		Msg("Bridge request")
}
