// Package resolver turns channel URLs of the form protocol:item?query into
// a channel and an accessor, looking the protocol up in a plugin registry.
package resolver

import (
	"errors"
	"fmt"
	"strings"

	"cncpanel/internal/channel"
	"cncpanel/pkg/plugin"

	"go.uber.org/zap"
)

var (
	// ErrUnknownProtocol is returned when no plugin serves the URL protocol.
	ErrUnknownProtocol = errors.New("unknown protocol")

	// ErrUnknownChannel is returned when the plugin has no such channel.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrMalformedURL is returned for URLs without a protocol or item.
	ErrMalformedURL = errors.New("malformed channel URL")
)

// URL is a parsed channel URL.
type URL struct {
	Protocol string
	Name     string
	Query    channel.Query
}

// ParseURL parses "protocol:item[?query]".
func ParseURL(s string) (URL, error) {
	protocol, item, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || protocol == "" || item == "" {
		return URL{}, fmt.Errorf("%w: %q", ErrMalformedURL, s)
	}

	name, rawQuery, _ := strings.Cut(item, "?")
	if name == "" {
		return URL{}, fmt.Errorf("%w: %q has no channel name", ErrMalformedURL, s)
	}

	q, err := channel.ParseQuery(rawQuery)
	if err != nil {
		return URL{}, fmt.Errorf("%q: %w", s, err)
	}

	return URL{Protocol: protocol, Name: name, Query: q}, nil
}

// Item returns the plugin-relative part, "name?query".
func (u URL) Item() string {
	if u.Query.IsEmpty() {
		return u.Name
	}
	return u.Name + "?" + u.Query.String()
}

// String returns the canonical form of the URL.
func (u URL) String() string {
	return u.Protocol + ":" + u.Item()
}

// Registry looks plugins up by protocol. Implemented by *plugin.Registry.
type Registry interface {
	Get(protocol string) (plugin.Plugin, bool)
}

// Resolver resolves URLs against a registry.
type Resolver struct {
	registry Registry
	logger   *zap.Logger
}

// New creates a resolver.
func New(registry Registry, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{registry: registry, logger: logger}
}

// Lookup resolves a URL and probes the accessor once. A probe that fails
// with a bad index or unknown key makes the URL unresolvable; other probe
// errors are left to the caller, since values may not be populated yet.
func (r *Resolver) Lookup(raw string) (*channel.Channel, channel.Accessor, error) {
	u, err := ParseURL(raw)
	if err != nil {
		return nil, nil, err
	}

	p, ok := r.registry.Get(u.Protocol)
	if !ok {
		return nil, nil, fmt.Errorf("%w %q", ErrUnknownProtocol, u.Protocol)
	}

	ch, acc := p.Channel(u.Item())
	if ch == nil || acc == nil {
		return nil, nil, fmt.Errorf("%w %q", ErrUnknownChannel, u.String())
	}

	if _, err := acc(); errors.Is(err, channel.ErrBadIndex) || errors.Is(err, channel.ErrUnknownKey) {
		return nil, nil, fmt.Errorf("%s: %w", u.String(), err)
	}

	return ch, acc, nil
}

// Resolve is the fail-soft form of Lookup: failures are logged and return
// (nil, nil), which callers treat as "do not bind". It never panics.
func (r *Resolver) Resolve(raw string) (ch *channel.Channel, acc channel.Accessor) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Panic while resolving channel",
				zap.String("url", raw),
				zap.Any("panic", rec))
			ch, acc = nil, nil
		}
	}()

	ch, acc, err := r.Lookup(raw)
	if err != nil {
		r.logger.Warn("Failed to resolve channel",
			zap.String("url", raw),
			zap.Error(err))
		return nil, nil
	}
	return ch, acc
}

// Resolve resolves a URL against the global plugin registry.
func Resolve(raw string) (*channel.Channel, channel.Accessor) {
	return New(plugin.Global(), zap.L().Named("resolver")).Resolve(raw)
}
