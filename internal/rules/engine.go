package rules

import (
	"fmt"
	"sync"

	"cncpanel/internal/channel"
	"cncpanel/internal/expr"
	"cncpanel/internal/metrics"
	"cncpanel/internal/widget"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Resolver resolves channel URLs. Implemented by *resolver.Resolver.
type Resolver interface {
	Resolve(url string) (*channel.Channel, channel.Accessor)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics counts rule evaluations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithCompiler replaces the default expression compiler.
func WithCompiler(c *expr.Compiler) Option {
	return func(e *Engine) { e.compiler = c }
}

// Engine registers widget rules.
type Engine struct {
	resolver Resolver
	compiler *expr.Compiler
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewEngine creates an engine resolving channels with r.
func NewEngine(r Resolver, opts ...Option) *Engine {
	e := &Engine{resolver: r}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

func (e *Engine) compile(src string) (*expr.Program, error) {
	if e.compiler != nil {
		return e.compiler.Compile(src)
	}
	return expr.Compile(src)
}

// Register binds every rule in rulesJSON to target. A rule that fails any
// check is logged and dropped; the others are still bound. The returned
// error combines every failure. A parse failure binds nothing.
func (e *Engine) Register(target widget.RuleTarget, rulesJSON string) ([]*Bound, error) {
	rules, err := Parse(rulesJSON)
	if err != nil {
		e.logger.Error("Failed to parse widget rules",
			zap.String("widget", target.WidgetName()),
			zap.Error(err))
		return nil, err
	}

	var bound []*Bound
	var errs error
	for _, rule := range rules {
		b, err := e.Bind(target, rule)
		if err != nil {
			e.logger.Warn("Dropping widget rule",
				zap.String("widget", target.WidgetName()),
				zap.String("rule", rule.label()),
				zap.String("property", rule.Property),
				zap.String("expression", rule.Expression),
				zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", rule.label(), err))
			continue
		}
		bound = append(bound, b)
	}

	if len(bound) > 0 {
		e.logger.Debug("Widget rules registered",
			zap.String("widget", target.WidgetName()),
			zap.Int("rules", len(bound)))
	}
	return bound, errs
}

// Bind checks one rule, evaluates it once and subscribes it to its
// trigger channels.
func (e *Engine) Bind(target widget.RuleTarget, rule Rule) (*Bound, error) {
	b := &Bound{
		Rule:    rule,
		target:  target,
		logger:  e.logger.With(zap.String("widget", target.WidgetName()), zap.String("rule", rule.label())),
		metrics: e.metrics,
	}

	var triggers []*channel.Channel
	for _, ref := range rule.Channels {
		ch, acc := e.resolver.Resolve(ref.URL)
		if ch == nil || acc == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnresolved, ref.URL)
		}
		b.inputs = append(b.inputs, acc)
		if ref.Trigger {
			triggers = append(triggers, ch)
		}
	}
	if len(triggers) == 0 {
		return nil, ErrNoTrigger
	}

	prop, ok := target.RuleProperties()[rule.Property]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownProperty, rule.Property)
	}
	b.property = prop

	prog, err := e.compile(rule.Expression)
	if err != nil {
		return nil, err
	}
	if prog.Inputs() > len(b.inputs) {
		return nil, fmt.Errorf("expression reads %s[%d] but the rule has %d channels",
			expr.DefaultInputName, prog.Inputs()-1, len(b.inputs))
	}
	if !compatible(prop.Kind, prog.Kind()) {
		return nil, fmt.Errorf("%w: %s expression for %s property", ErrKindMismatch, prog.Kind(), prop.Kind)
	}
	b.program = prog

	// The first evaluation must succeed for the rule to be kept
	v, err := b.compute()
	if err != nil {
		return nil, err
	}
	if v != nil && !compatible(prop.Kind, expr.KindOf(v)) {
		return nil, fmt.Errorf("%w: initial value %v is %s, property is %s",
			ErrKindMismatch, v, expr.KindOf(v), prop.Kind)
	}
	b.apply(v)

	for _, ch := range triggers {
		b.subs = append(b.subs, ch.Notify(func(any) { b.Evaluate() }, channel.Query{}))
	}
	return b, nil
}

// compatible reports whether an expression kind can drive a property kind.
// Unknown expression kinds are checked when evaluated.
func compatible(prop widget.Kind, k expr.Kind) bool {
	if prop == widget.KindNone || k == expr.KindUnknown {
		return true
	}
	switch prop {
	case widget.KindBool:
		return k == expr.KindBool
	case widget.KindNumber:
		return k == expr.KindNumber
	case widget.KindString:
		return k == expr.KindString
	}
	return false
}

// Bound is a registered rule.
type Bound struct {
	Rule Rule

	target   widget.RuleTarget
	property widget.RuleProperty
	program  *expr.Program
	inputs   []channel.Accessor
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu     sync.Mutex
	subs   []*channel.Subscription
	closed bool
}

// compute reads every input and evaluates the expression.
func (b *Bound) compute() (any, error) {
	values := make([]any, len(b.inputs))
	for i, acc := range b.inputs {
		v, err := acc()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", b.Rule.Channels[i].URL, err)
		}
		values[i] = v
	}
	return b.program.Eval(values)
}

// Evaluate re-runs the rule. Failures are logged and leave the property
// unchanged.
func (b *Bound) Evaluate() {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return
	}

	v, err := b.compute()
	if err != nil {
		b.metrics.RecordRuleEvaluation("error")
		b.logger.Warn("Rule evaluation failed", zap.Error(err))
		return
	}
	if v != nil && !compatible(b.property.Kind, expr.KindOf(v)) {
		b.metrics.RecordRuleEvaluation("mismatch")
		b.logger.Warn("Rule produced a value of the wrong kind",
			zap.Any("value", v),
			zap.Stringer("property_kind", b.property.Kind))
		return
	}

	b.apply(v)
}

func (b *Bound) apply(v any) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.RecordRuleEvaluation("error")
			b.logger.Error("Panic while applying rule", zap.Any("panic", r))
		}
	}()

	if v == nil || b.property.Apply == nil {
		return
	}
	b.property.Apply(v)
	b.metrics.RecordRuleEvaluation("ok")
}

// Close detaches the rule from its trigger channels.
func (b *Bound) Close() {
	b.mu.Lock()
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
}

// CloseAll closes every bound rule.
func CloseAll(bound []*Bound) {
	for _, b := range bound {
		b.Close()
	}
}
