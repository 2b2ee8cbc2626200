package tiered

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/quotaguard/pkg/limits/ratelimit"
	"mercator-hq/quotaguard/pkg/telemetry/logging"
	"mercator-hq/quotaguard/pkg/telemetry/tracing"
)

// ReasonAllowed is the reason of an admitted request.
const ReasonAllowed = "allowed"

// Scope selects how a tier derives its key from a request.
type Scope string

const (
	// ScopeUserModel keys the tier by (user, model).
	ScopeUserModel Scope = "user_model"

	// ScopeModel keys the tier by model, shared by every user.
	ScopeModel Scope = "model"

	// ScopeClass keys the tier by the class of the model, shared by every
	// user. Classes without a backend are not limited by the tier.
	ScopeClass Scope = "class"

	// ScopeTokens charges the token cost of the request to (user, model).
	ScopeTokens Scope = "tokens"
)

// Backend is the limiter of a tier plus an optional local fallback used by
// FailLocal.
type Backend struct {
	Limiter  ratelimit.Admitter
	Fallback ratelimit.Admitter
}

// Tier is one named stage of the evaluation.
type Tier struct {
	Name  string
	Scope Scope

	// Backend serves every scope except ScopeClass.
	Backend Backend

	// Classes serves ScopeClass, one backend per class.
	Classes map[string]Backend
}

// Request is one admission attempt.
type Request struct {
	User  string
	Model string

	// RequestID is shared by every tier so retries are idempotent on store
	// backed tiers. Empty means one is generated per call.
	RequestID string

	// Token usage, charged by tokens tiers only.
	InputTokens  int64
	OutputTokens int64
}

// TierResult is the outcome of one evaluated tier.
type TierResult struct {
	Tier       string        `json:"tier"`
	Key        string        `json:"key"`
	Allowed    bool          `json:"allowed"`
	Limit      int64         `json:"limit"`
	Remaining  int64         `json:"remaining"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Duplicate  bool          `json:"duplicate,omitempty"`

	// Fallback names the failure policy applied when the store failed.
	Fallback FailurePolicy `json:"fallback,omitempty"`

	// Reason is set on denial.
	Reason string `json:"reason,omitempty"`
}

// Decision is the outcome of a tiered admission.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`

	// RequestID is the id the tiers were asked with.
	RequestID string `json:"request_id"`

	// Class is the model class the request was classified as.
	Class string `json:"class"`

	// Tier and Key identify the denying tier.
	Tier string `json:"tier,omitempty"`
	Key  string `json:"key,omitempty"`

	// RetryAfter is the wait suggested by the denying tier.
	RetryAfter time.Duration `json:"retry_after,omitempty"`

	// Remaining is the smallest known remaining capacity among evaluated
	// tiers, or -1 when none is known.
	Remaining int64 `json:"remaining"`

	// Evaluated lists the tiers in evaluation order.
	Evaluated []TierResult `json:"evaluated"`
}

// Observer receives per tier measurements.
type Observer interface {
	ObserveCheck(tier string, allowed bool, duration time.Duration)
	ObserveStoreError(tier, kind string)
	ObserveFallback(tier string, policy FailurePolicy)
}

type nopObserver struct{}

func (nopObserver) ObserveCheck(string, bool, time.Duration) {}
func (nopObserver) ObserveStoreError(string, string)         {}
func (nopObserver) ObserveFallback(string, FailurePolicy)    {}

// Store error kinds reported to the Observer.
const (
	ErrorKindUnavailable = "unavailable"
	ErrorKindScript      = "script_missing"
	ErrorKindClockSkew   = "clock_skew"
	ErrorKindOther       = "other"
)

// ErrorKind classifies a limiter error for metric labels.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ratelimit.ErrScriptMissing):
		return ErrorKindScript
	case errors.Is(err, ratelimit.ErrStoreUnavailable):
		return ErrorKindUnavailable
	case errors.Is(err, ratelimit.ErrClockSkew):
		return ErrorKindClockSkew
	default:
		return ErrorKindOther
	}
}

// Limiter evaluates tiers in order and reduces them to one decision.
type Limiter struct {
	tiers      []Tier
	policy     FailurePolicy
	classifier *Classifier
	observer   Observer
	newID      func() string
	logger     *slog.Logger
	tracer     trace.Tracer
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithFailurePolicy sets how store failures are handled.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(l *Limiter) {
		if p != "" {
			l.policy = p
		}
	}
}

// WithClassifier sets the classifier used by class tiers.
func WithClassifier(c *Classifier) Option {
	return func(l *Limiter) {
		if c != nil {
			l.classifier = c
		}
	}
}

// WithObserver sets the measurement sink.
func WithObserver(o Observer) Option {
	return func(l *Limiter) {
		if o != nil {
			l.observer = o
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithRequestIDGenerator overrides how missing request ids are generated.
func WithRequestIDGenerator(fn func() string) Option {
	return func(l *Limiter) {
		if fn != nil {
			l.newID = fn
		}
	}
}

// New creates a tiered limiter. The order of tiers is the evaluation order.
func New(tiers []Tier, opts ...Option) (*Limiter, error) {
	if len(tiers) == 0 {
		return nil, &ratelimit.ConfigError{Field: "tiers", Value: 0, Reason: "must not be empty"}
	}

	seen := make(map[string]bool, len(tiers))
	for i, tier := range tiers {
		if tier.Name == "" {
			return nil, &ratelimit.ConfigError{Field: fmt.Sprintf("tiers[%d].name", i), Value: "", Reason: "is required"}
		}
		if seen[tier.Name] {
			return nil, &ratelimit.ConfigError{Field: fmt.Sprintf("tiers[%d].name", i), Value: tier.Name, Reason: "is duplicated"}
		}
		seen[tier.Name] = true

		switch tier.Scope {
		case ScopeUserModel, ScopeModel, ScopeTokens:
			if tier.Backend.Limiter == nil {
				return nil, &ratelimit.ConfigError{Field: fmt.Sprintf("tiers[%d].backend", i), Value: nil, Reason: "is required"}
			}
		case ScopeClass:
			for class, b := range tier.Classes {
				if b.Limiter == nil {
					return nil, &ratelimit.ConfigError{Field: fmt.Sprintf("tiers[%d].classes.%s", i, class), Value: nil, Reason: "is required"}
				}
			}
		default:
			return nil, &ratelimit.ConfigError{Field: fmt.Sprintf("tiers[%d].scope", i), Value: tier.Scope, Reason: "is unknown"}
		}
	}

	l := &Limiter{
		tiers:      append([]Tier(nil), tiers...),
		policy:     FailError,
		classifier: NewClassifier(nil, DefaultClass),
		observer:   nopObserver{},
		newID:      uuid.NewString,
		logger:     slog.Default(),
		tracer:     tracing.Component("tiered"),
	}
	for _, opt := range opts {
		opt(l)
	}

	if _, err := ParseFailurePolicy(string(l.policy)); err != nil {
		return nil, &ratelimit.ConfigError{Field: "failure_policy", Value: l.policy, Reason: "is unknown"}
	}
	l.logger = l.logger.With("component", "limits.tiered")

	return l, nil
}

// Tiers returns the tier names in evaluation order.
func (l *Limiter) Tiers() []string {
	names := make([]string, len(l.tiers))
	for i, tier := range l.tiers {
		names[i] = tier.Name
	}
	return names
}

// Classifier returns the classifier used by class tiers.
func (l *Limiter) Classifier() *Classifier {
	return l.classifier
}

// FailurePolicy returns the policy applied to store failures.
func (l *Limiter) FailurePolicy() FailurePolicy {
	return l.policy
}

// Allow reports whether user may call model now and why not if denied.
func (l *Limiter) Allow(ctx context.Context, user, model string) (bool, string, error) {
	d, err := l.Admit(ctx, Request{User: user, Model: model})
	if err != nil {
		return false, "", err
	}
	return d.Allowed, d.Reason, nil
}

// Admit evaluates every tier in order until one denies.
//
// Tiers that accepted before a later denial keep the request recorded.
func (l *Limiter) Admit(ctx context.Context, req Request) (Decision, error) {
	if req.RequestID == "" {
		req.RequestID = l.newID()
	}
	class := l.classifier.Classify(req.Model)
	ctx = logging.WithAdmission(ctx, req.RequestID, req.User, req.Model)

	ctx, span := l.tracer.Start(ctx, "tiered.Admit", trace.WithAttributes(
		attribute.String(tracing.AttrClass, class),
	))
	defer span.End()
	tracing.SetAdmissionAttributes(span, req.User, req.Model, req.RequestID)

	d := Decision{
		Allowed:   true,
		Reason:    ReasonAllowed,
		RequestID: req.RequestID,
		Class:     class,
		Remaining: -1,
		Evaluated: make([]TierResult, 0, len(l.tiers)),
	}

	for i := range l.tiers {
		tier := &l.tiers[i]

		backend, rreq, ok := tier.resolve(req, class)
		if !ok {
			continue
		}

		res, err := l.check(ctx, tier, backend, rreq)
		d.Evaluated = append(d.Evaluated, res)
		if err != nil {
			tracing.SetError(span, err)
			return Decision{RequestID: req.RequestID, Class: class, Remaining: -1, Evaluated: d.Evaluated}, err
		}

		if res.Remaining >= 0 && (d.Remaining < 0 || res.Remaining < d.Remaining) {
			d.Remaining = res.Remaining
		}

		if !res.Allowed {
			d.Allowed = false
			d.Reason = res.Reason
			d.Tier = res.Tier
			d.Key = res.Key
			d.RetryAfter = res.RetryAfter

			tracing.SetDecisionAttributes(span, false, false)
			tracing.SetDenialAttributes(span, tier.Name, res.Reason)
			l.logger.DebugContext(logging.WithTier(ctx, tier.Name), "request denied",
				"key", res.Key,
				"retry_after", res.RetryAfter,
			)
			return d, nil
		}
	}

	tracing.SetDecisionAttributes(span, true, false)
	return d, nil
}

// resolve picks the backend and builds the limiter request for the tier.
// It reports false when the tier does not apply to the request.
func (t *Tier) resolve(req Request, class string) (Backend, ratelimit.Request, bool) {
	rreq := ratelimit.Request{RequestID: req.RequestID}

	switch t.Scope {
	case ScopeUserModel:
		rreq.Tenant, rreq.Resource = req.User, req.Model
		return t.Backend, rreq, true
	case ScopeModel:
		rreq.Tenant, rreq.Resource = ratelimit.GlobalTenant, req.Model
		return t.Backend, rreq, true
	case ScopeClass:
		b, ok := t.Classes[class]
		if !ok {
			return Backend{}, rreq, false
		}
		rreq.Tenant, rreq.Resource = ratelimit.GlobalTenant, ratelimit.TierResource(class)
		return b, rreq, true
	case ScopeTokens:
		rreq.Tenant, rreq.Resource = req.User, req.Model
		rreq.Cost = ratelimit.TokenCost(req.InputTokens, req.OutputTokens)
		return t.Backend, rreq, true
	}
	return Backend{}, rreq, false
}

// check asks one tier and applies the failure policy to store errors.
func (l *Limiter) check(ctx context.Context, tier *Tier, backend Backend, req ratelimit.Request) (TierResult, error) {
	key := req.Key()
	res := TierResult{Tier: tier.Name, Key: key}
	ctx = logging.WithTier(ctx, tier.Name)

	ctx, span := l.tracer.Start(ctx, "tiered.tier", trace.WithAttributes(
		attribute.String(tracing.AttrTier, tier.Name),
		attribute.String(tracing.AttrKey, key),
		attribute.Int64(tracing.AttrCost, req.Cost),
	))
	defer span.End()

	start := time.Now()
	dec, err := backend.Limiter.Admit(ctx, req)
	if err != nil {
		l.observer.ObserveStoreError(tier.Name, ErrorKind(err))
		dec, err = l.applyPolicy(ctx, tier, backend, req, err, &res)
		if err != nil {
			tracing.SetError(span, err)
			return res, fmt.Errorf("tier %s: %w", tier.Name, err)
		}
		span.SetAttributes(attribute.String(tracing.AttrFallback, string(res.Fallback)))
	}
	l.observer.ObserveCheck(tier.Name, dec.Allowed, time.Since(start))

	res.Allowed = dec.Allowed
	res.Limit = dec.Limit
	res.Remaining = dec.Remaining
	res.Duplicate = dec.Duplicate
	if !dec.Allowed {
		res.RetryAfter = dec.RetryAfter
		if res.Reason == "" {
			res.Reason = fmt.Sprintf("%s limit exceeded for %s", tier.Name, key)
		}
	}

	tracing.SetDecisionAttributes(span, dec.Allowed, dec.Duplicate)
	return res, nil
}

// applyPolicy applies the failure policy to a failed tier check. Only store
// unavailability is recoverable; every other error is returned as is.
func (l *Limiter) applyPolicy(ctx context.Context, tier *Tier, backend Backend, req ratelimit.Request, cause error, res *TierResult) (ratelimit.Decision, error) {
	if l.policy == FailError || !ratelimit.IsStoreUnavailable(cause) {
		return ratelimit.Decision{}, cause
	}

	switch l.policy {
	case FailOpen:
		l.fellBack(ctx, tier, res, cause)
		return ratelimit.Decision{Allowed: true, Remaining: -1}, nil

	case FailClosed:
		l.fellBack(ctx, tier, res, cause)
		res.Reason = fmt.Sprintf("%s store unavailable", tier.Name)
		return ratelimit.Decision{}, nil

	case FailLocal:
		if backend.Fallback == nil {
			return ratelimit.Decision{}, cause
		}
		l.fellBack(ctx, tier, res, cause)
		return backend.Fallback.Admit(ctx, req)
	}
	return ratelimit.Decision{}, cause
}

func (l *Limiter) fellBack(ctx context.Context, tier *Tier, res *TierResult, cause error) {
	res.Fallback = l.policy
	l.observer.ObserveFallback(tier.Name, l.policy)
	l.logger.WarnContext(ctx, "store unavailable, applying failure policy",
		"policy", string(l.policy),
		"error", cause,
	)
}
