// Package dispatch wires the validation pipeline together: policy lookup,
// schema validation, path confinement, the confirmation gate, execution,
// and the audit record. Every request leaves through the same exit: audited,
// measured, and answered with a fully-formed envelope.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opgate/opgate/internal/audit"
	"github.com/opgate/opgate/internal/executor"
	"github.com/opgate/opgate/internal/gate"
	"github.com/opgate/opgate/internal/history"
	"github.com/opgate/opgate/internal/model"
	"github.com/opgate/opgate/internal/notify"
	"github.com/opgate/opgate/internal/pathguard"
	"github.com/opgate/opgate/internal/policy"
	"github.com/opgate/opgate/internal/schema"
)

// Runner executes an expanded command vector. Satisfied by
// *executor.Executor; tests substitute a spy.
type Runner interface {
	Run(ctx context.Context, argv []string, timeout time.Duration) (executor.Result, error)
}

// Options configures a Dispatcher. Registry, Runner, Audit and Log are
// required; the rest are optional.
type Options struct {
	Registry     *policy.Registry
	Runner       Runner
	Audit        *audit.Log
	History      *history.Store
	Notifier     *notify.Notifier
	Metrics      *Metrics
	AllowedRoots []string
	Log          *zap.Logger
}

// Dispatcher drives one request through the pipeline. Safe for concurrent
// use; the only mutable state is the atomically swapped registry.
type Dispatcher struct {
	reg      atomic.Pointer[policy.Registry]
	runner   Runner
	auditLog *audit.Log
	hist     *history.Store
	notifier *notify.Notifier
	metrics  *Metrics
	roots    []string
	log      *zap.Logger
}

// New builds a Dispatcher.
func New(opts Options) *Dispatcher {
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	d := &Dispatcher{
		runner:   opts.Runner,
		auditLog: opts.Audit,
		hist:     opts.History,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		roots:    opts.AllowedRoots,
		log:      opts.Log,
	}
	d.reg.Store(opts.Registry)
	return d
}

// Reload atomically swaps in a new registry. In-flight requests keep the
// registry they started with.
func (d *Dispatcher) Reload(reg *policy.Registry) {
	old := d.reg.Swap(reg)
	d.log.Info("policy registry swapped",
		zap.String("hash", reg.Hash()),
		zap.Int("operations", reg.Len()),
		zap.String("previous_hash", old.Hash()))
}

// Registry returns the currently active registry.
func (d *Dispatcher) Registry() *policy.Registry {
	return d.reg.Load()
}

// Metrics returns the dispatcher's metric set.
func (d *Dispatcher) Metrics() *Metrics { return d.metrics }

// Dispatch runs the full pipeline and returns the response envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, req model.Request) model.Response {
	return d.run(ctx, req, true)
}

// Check runs the pipeline up to and including the confirmation gate without
// executing anything. Used by the dry-run CLI and MCP tool.
func (d *Dispatcher) Check(ctx context.Context, req model.Request) model.Response {
	return d.run(ctx, req, false)
}

func (d *Dispatcher) run(ctx context.Context, req model.Request, execute bool) model.Response {
	start := time.Now()
	d.metrics.inflight.Inc()
	defer d.metrics.inflight.Dec()

	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	reg := d.reg.Load()
	def, ok := reg.Lookup(req.Operation)
	if !ok {
		resp := model.Fail(model.ErrUnknownOperation,
			fmt.Sprintf("operation %q is not available", req.Operation),
			"unknown operation")
		return d.finish(ctx, req, def, reg, resp, "", start, false)
	}

	if err := schema.Validate(def, req.Arguments); err != nil {
		resp := model.Fail(model.ErrValidation, "invalid arguments", err.Error())
		return d.finish(ctx, req, def, reg, resp, "", start, false)
	}

	// Path confinement rewrites each path-like argument to its resolved
	// canonical form; the executor only ever sees confined paths.
	args := schema.StringValues(def, req.Arguments)
	detail := ""
	for _, name := range def.PathArgs() {
		raw, present := args[name]
		if !present {
			continue
		}
		resolved, err := pathguard.ConfineAny(raw, d.roots)
		if err != nil {
			var v *pathguard.Violation
			if errors.As(err, &v) {
				detail = fmt.Sprintf("argument %q: %s", name, v.Detail())
			} else {
				detail = fmt.Sprintf("argument %q: %v", name, err)
			}
			resp := model.Fail(model.ErrSecurityViolation, "request rejected", "path not permitted")
			return d.finish(ctx, req, def, reg, resp, detail, start, false)
		}
		args[name] = resolved
	}

	if gate.NeedsConfirmation(def, req) {
		resp := model.Fail(model.ErrConfirmationRequired,
			fmt.Sprintf("%s changes system state and requires confirmation", def.Name),
			"resend the request with confirm=true to proceed")
		resp.NeedConfirm = true
		return d.finish(ctx, req, def, reg, resp, "", start, false)
	}

	if !execute {
		resp := model.Response{
			OK:      true,
			Summary: fmt.Sprintf("%s would execute", def.Name),
			Data: map[string]any{
				"operation":       def.Name,
				"mutates":         def.Mutates,
				"requiresConfirm": def.RequiresConfirm,
			},
			Metrics: model.Metrics{ElapsedMs: time.Since(start).Milliseconds()},
		}
		return d.finish(ctx, req, def, reg, resp, "check only", start, false)
	}

	argv, err := policy.ExpandCommand(def, args)
	if err != nil {
		// Unreachable after load-time placeholder validation.
		resp := model.Fail(model.ErrExecutionStart, "operation failed to start", "internal command expansion error")
		return d.finish(ctx, req, def, reg, resp, err.Error(), start, false)
	}

	res, runErr := d.runner.Run(ctx, argv, def.Timeout)
	resp := d.responseFor(def, res, runErr)
	var cerr *executor.CancelError
	if errors.As(runErr, &cerr) {
		detail = "canceled by caller"
	}
	return d.finish(ctx, req, def, reg, resp, detail, start, true)
}

func (d *Dispatcher) responseFor(def policy.OperationDefinition, res executor.Result, runErr error) model.Response {
	resp := model.Response{
		Stdout: res.Stdout,
		Stderr: res.Stderr,
		Metrics: model.Metrics{
			ElapsedMs: res.Elapsed.Milliseconds(),
			ExitCode:  res.ExitCode,
		},
	}
	if res.StdoutTruncated || res.StderrTruncated {
		resp.Data = map[string]any{
			"stdoutTruncated": res.StdoutTruncated,
			"stderrTruncated": res.StderrTruncated,
			"stdoutBytes":     humanize.Bytes(uint64(res.StdoutBytes)),
			"stderrBytes":     humanize.Bytes(uint64(res.StderrBytes)),
		}
	}

	switch {
	case runErr == nil && res.ExitCode == 0:
		resp.OK = true
		resp.Summary = fmt.Sprintf("%s completed", def.Name)
	case runErr == nil:
		resp.Summary = fmt.Sprintf("%s exited with code %d", def.Name, res.ExitCode)
		resp.Error = &model.ErrorInfo{
			Kind:    model.ErrExecutionNonZeroExit,
			Message: fmt.Sprintf("process exited with code %d", res.ExitCode),
		}
	default:
		var terr *executor.TimeoutError
		var cerr *executor.CancelError
		if errors.As(runErr, &terr) {
			resp.Summary = fmt.Sprintf("%s timed out", def.Name)
			resp.Error = &model.ErrorInfo{
				Kind:    model.ErrExecutionTimeout,
				Message: fmt.Sprintf("terminated after %s", terr.Timeout),
			}
		} else if errors.As(runErr, &cerr) {
			resp.Summary = fmt.Sprintf("%s canceled before completion", def.Name)
			resp.Error = &model.ErrorInfo{
				Kind:    model.ErrExecutionTimeout,
				Message: "canceled before completion",
			}
		} else {
			resp.Summary = fmt.Sprintf("%s failed to start", def.Name)
			resp.Error = &model.ErrorInfo{
				Kind:    model.ErrExecutionStart,
				Message: "operation could not be started",
			}
		}
	}
	return resp
}

// finish is the single exit point: audit, history, metrics, notification.
// Audit failures are recovered here and never alter the response.
func (d *Dispatcher) finish(ctx context.Context, req model.Request, def policy.OperationDefinition, reg *policy.Registry, resp model.Response, detail string, start time.Time, ran bool) model.Response {
	status := resp.Status()
	elapsed := time.Since(start)
	if resp.Metrics.ElapsedMs == 0 {
		resp.Metrics.ElapsedMs = elapsed.Milliseconds()
	}
	// Label values come from the policy, never from the caller: arbitrary
	// operation names would grow the series set without bound. The audit
	// record keeps the name the caller actually sent.
	label := def.Name
	if label == "" {
		label = "_unknown"
	}
	d.metrics.observe(label, status, elapsed.Seconds())

	argsHash, err := audit.HashArgs(req.Arguments, def.SensitiveArgs())
	if err != nil {
		d.log.Error("argument hashing failed", zap.String("request_id", req.ID), zap.Error(err))
		argsHash = "sha256:unavailable"
	}
	rec := audit.Record{
		RequestID:       req.ID,
		Operation:       req.Operation,
		ArgsHash:        argsHash,
		Mutates:         def.Mutates,
		RequiresConfirm: def.RequiresConfirm,
		Status:          status,
		Detail:          detail,
		ExitCode:        resp.Metrics.ExitCode,
		ElapsedMs:       resp.Metrics.ElapsedMs,
		StdoutTruncated: truncatedFlag(resp, "stdoutTruncated"),
		StderrTruncated: truncatedFlag(resp, "stderrTruncated"),
		PolicyHash:      reg.Hash(),
	}
	if err := d.auditLog.Append(rec); err != nil {
		d.metrics.auditFailures.Inc()
		d.log.Error("audit write failed",
			zap.String("request_id", req.ID),
			zap.String("operation", req.Operation),
			zap.Error(err))
	}

	if d.hist != nil {
		he := history.Entry{
			RequestID: req.ID,
			Operation: req.Operation,
			Status:    status,
			ExitCode:  resp.Metrics.ExitCode,
			ElapsedMs: resp.Metrics.ElapsedMs,
		}
		if err := d.hist.Record(ctx, he); err != nil {
			d.log.Warn("history write failed", zap.String("request_id", req.ID), zap.Error(err))
		}
	}

	// Only executed operations notify; refusals before the executor stay
	// between the caller and the audit log.
	if d.notifier != nil && ran {
		ev := notify.Event{
			RequestID: req.ID,
			Operation: def.Name,
			Success:   resp.OK,
			Status:    status,
			Summary:   resp.Summary,
			ElapsedMs: resp.Metrics.ElapsedMs,
		}
		if def.NotifiesOn(ev.Kind()) {
			d.notifier.Publish(ev)
		}
	}

	return resp
}

func truncatedFlag(resp model.Response, key string) bool {
	if resp.Data == nil {
		return false
	}
	v, _ := resp.Data[key].(bool)
	return v
}
