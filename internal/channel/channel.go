// Package channel implements the named observable values that data plugins
// expose to widgets and rules. A channel caches its raw value, converts it
// to text on request and synchronously notifies its subscribers whenever
// the owning plugin reports a change.
package channel

import (
	"errors"
	"fmt"
	"sync"

	"cncpanel/internal/metrics"

	"go.uber.org/zap"
)

var (
	// ErrNotSettable is returned by Set on a read-only channel.
	ErrNotSettable = errors.New("channel is not settable")
	// ErrBadIndex is returned when a query index is missing, malformed or out of range.
	ErrBadIndex = errors.New("bad channel index")
	// ErrUnknownKey is returned when a query names a key the channel does not have.
	ErrUnknownKey = errors.New("unknown channel key")
	// ErrMalformedQuery is returned by ParseQuery for unparseable query strings.
	ErrMalformedQuery = errors.New("malformed channel query")
)

// Getter computes the value for a query, overriding the cached raw value.
type Getter func(c *Channel, q Query) (any, error)

// Formatter computes the text for a query, overriding FormatValue.
type Formatter func(c *Channel, q Query) (string, error)

// Setter writes a value to the machine. It is responsible for storing the
// new value with Store when the write takes effect immediately.
type Setter func(c *Channel, v any) error

// Callback receives the value of a channel after a change.
type Callback func(v any)

// Accessor is a resolved read of a channel with a fixed query.
type Accessor func() (any, error)

// Option configures a Channel.
type Option func(*Channel)

// WithType declares the value type of the channel.
func WithType(t Type) Option {
	return func(c *Channel) { c.typ = t }
}

// WithValue sets the initial cached value without notifying.
func WithValue(v any) Option {
	return func(c *Channel) { c.value = v }
}

// WithGetter installs a custom value accessor.
func WithGetter(g Getter) Option {
	return func(c *Channel) { c.getter = g }
}

// WithFormatter installs a custom text accessor.
func WithFormatter(f Formatter) Option {
	return func(c *Channel) { c.formatter = f }
}

// WithSetter installs a setter and marks the channel settable.
func WithSetter(s Setter) Option {
	return func(c *Channel) {
		c.setter = s
		c.settable = true
	}
}

// WithSettable marks the channel settable without a setter; Set stores the
// value directly.
func WithSettable() Option {
	return func(c *Channel) { c.settable = true }
}

// WithDescription attaches a human readable description.
func WithDescription(d string) Option {
	return func(c *Channel) { c.description = d }
}

// WithLogger sets the logger used to report failing subscribers.
func WithLogger(l *zap.Logger) Option {
	return func(c *Channel) { c.logger = l }
}

// WithMetrics counts failing subscribers.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Channel) { c.metrics = m }
}

// Channel is a named observable value.
type Channel struct {
	name        string
	typ         Type
	description string
	settable    bool

	getter    Getter
	formatter Formatter
	setter    Setter

	logger  *zap.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	value  any
	subs   []*Subscription
	nextID uint64
}

// New creates a channel.
func New(name string, opts ...Option) *Channel {
	c := &Channel{name: name}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// Type returns the declared value type.
func (c *Channel) Type() Type { return c.typ }

// Description returns the channel description.
func (c *Channel) Description() string { return c.description }

// Settable reports whether Set is allowed.
func (c *Channel) Settable() bool { return c.settable }

// Raw returns the cached value, ignoring any getter.
func (c *Channel) Raw() any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Store replaces the cached value without notifying subscribers.
func (c *Channel) Store(v any) {
	c.mu.Lock()
	c.value = v
	c.mu.Unlock()
}

// Value returns the channel value for a query. Without a getter the query
// may only carry an "index" or "anum" into a tuple value.
func (c *Channel) Value(q Query) (any, error) {
	if c.getter != nil {
		return c.getter(c, q)
	}

	v := c.Raw()
	for _, key := range elementKeys {
		idx, ok, err := q.Int(key)
		if err != nil {
			return nil, err
		}
		if ok {
			return Element(v, idx)
		}
	}
	return v, nil
}

// elementKeys select one element of a tuple value, in order of precedence.
var elementKeys = []string{"index", "anum"}

// String returns the text form of the channel value for a query.
func (c *Channel) String(q Query) (string, error) {
	if c.formatter != nil {
		return c.formatter(c, q)
	}

	v, err := c.Value(q)
	if err != nil {
		return "", err
	}
	return FormatValue(v), nil
}

// Set writes a value through the channel. Notification always follows a
// successful write, even if the value did not change.
func (c *Channel) Set(v any) error {
	if !c.settable {
		return fmt.Errorf("%s: %w", c.name, ErrNotSettable)
	}

	if c.setter != nil {
		if err := c.setter(c, v); err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
		c.fire(c.Raw())
		return nil
	}

	c.Store(v)
	c.fire(v)
	return nil
}

// Update stores v and notifies every subscriber. Plugins call this once per
// detected change.
func (c *Channel) Update(v any) {
	c.Store(v)
	c.fire(v)
}

// Notify subscribes cb to changes. A query selects what the callback
// receives: an empty query passes the raw value, a string flag passes the
// text form and any other query passes the queried value.
func (c *Channel) Notify(cb Callback, q Query) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	sub := &Subscription{id: c.nextID, channel: c, cb: cb, query: q}
	c.subs = append(c.subs, sub)
	return sub
}

// Subscribers returns the number of live subscriptions.
func (c *Channel) Subscribers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}

// fire invokes every subscriber with the value selected by its query. A
// subscriber that panics or whose query fails is logged and skipped.
func (c *Channel) fire(raw any) {
	c.mu.RLock()
	subs := make([]*Subscription, len(c.subs))
	copy(subs, c.subs)
	c.mu.RUnlock()

	for _, sub := range subs {
		c.deliver(sub, raw)
	}
}

func (c *Channel) deliver(sub *Subscription, raw any) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Subscriber panicked",
				zap.String("channel", c.name),
				zap.Any("panic", r))
			c.metrics.RecordSubscriberFailure(c.name)
		}
	}()

	v, err := c.selectValue(sub.query, raw)
	if err != nil {
		c.logger.Warn("Failed to compute subscriber value",
			zap.String("channel", c.name),
			zap.String("query", sub.query.String()),
			zap.Error(err))
		c.metrics.RecordSubscriberFailure(c.name)
		return
	}

	sub.cb(v)
}

func (c *Channel) selectValue(q Query, raw any) (any, error) {
	switch {
	case q.WantsString():
		return c.String(q.WithoutStringFlag())
	case q.IsEmpty():
		return raw, nil
	default:
		return c.Value(q)
	}
}

func (c *Channel) remove(sub *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, s := range c.subs {
		if s.id == sub.id {
			c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
			return
		}
	}
}

// Subscription is a registered change callback.
type Subscription struct {
	id      uint64
	channel *Channel
	cb      Callback
	query   Query
	once    sync.Once
}

// Cancel removes the subscription. It is safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() { s.channel.remove(s) })
}

// Accessor returns a bound read of the channel for a query: the string
// accessor when the query starts with a string flag, otherwise the value
// accessor.
func (c *Channel) Accessor(q Query) Accessor {
	if q.WantsString() {
		rest := q.WithoutStringFlag()
		return func() (any, error) { return c.String(rest) }
	}
	return func() (any, error) { return c.Value(q) }
}
