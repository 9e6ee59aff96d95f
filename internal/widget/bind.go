package widget

import (
	"sync"

	"cncpanel/internal/channel"

	"go.uber.org/zap"
)

// Binding connects one channel to one widget. Close detaches it.
type Binding struct {
	ch     *channel.Channel
	sub    *channel.Subscription
	logger *zap.Logger

	mu       sync.Mutex
	closed   bool
	applying bool
}

// Bind drives target from a channel. Any ValueSetter receives the accessor
// value now and on every change. When the target is also a ValueNotifier
// and the channel is settable, operator changes are written back to the
// channel. It returns nil when the target has neither capability.
func Bind(ch *channel.Channel, acc channel.Accessor, target any, logger *zap.Logger) *Binding {
	if ch == nil || acc == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	setter, canSet := target.(ValueSetter)
	notifier, canNotify := target.(ValueNotifier)
	if !canSet && !canNotify {
		return nil
	}

	b := &Binding{ch: ch, logger: logger}

	if canSet {
		b.push(setter, acc)
		b.sub = ch.Notify(func(any) { b.push(setter, acc) }, channel.Query{})
	}

	if canNotify && ch.Settable() {
		notifier.OnValueChanged(func(v any) { b.pull(v) })
	}

	return b
}

// push copies the accessor value into the widget.
func (b *Binding) push(setter ValueSetter, acc channel.Accessor) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.applying = true
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.applying = false
		b.mu.Unlock()
	}()

	v, err := acc()
	if err != nil {
		b.logger.Debug("Binding value unavailable",
			zap.String("channel", b.ch.Name()),
			zap.Error(err))
		return
	}
	setter.SetValue(v)
}

// pull writes an operator change to the channel. Changes raised while the
// binding itself is updating the widget are ignored.
func (b *Binding) pull(v any) {
	b.mu.Lock()
	skip := b.closed || b.applying
	b.mu.Unlock()
	if skip {
		return
	}

	if err := b.ch.Set(v); err != nil {
		b.logger.Warn("Failed to set channel from widget",
			zap.String("channel", b.ch.Name()),
			zap.Any("value", v),
			zap.Error(err))
	}
}

// Close stops the binding in both directions.
func (b *Binding) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	if b.sub != nil {
		b.sub.Cancel()
	}
}
