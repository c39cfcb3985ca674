// Package notify delivers plain-text messages to chat targets.
//
// Targets are strings. A "scheme:" prefix selects the backend when a Router
// is used ("telegram:12345", "slack:#ops"); bare numeric targets go to
// telegram.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

var (
	ErrNoRoute     = errors.New("notify: no backend for target")
	ErrEmptyTarget = errors.New("notify: empty target")
)

// Notifier sends text to a target. Implementations split or truncate long
// text as their backend requires.
type Notifier interface {
	SendMessage(ctx context.Context, target, text string) error
}

// HealthChecker is implemented by notifiers that can probe their backend.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Router dispatches by target scheme.
type Router struct {
	routes   map[string]Notifier
	fallback string
}

// NewRouter creates a router whose bare targets go to the fallback scheme.
func NewRouter(fallback string) *Router {
	return &Router{routes: map[string]Notifier{}, fallback: fallback}
}

func (r *Router) Handle(scheme string, n Notifier) {
	if n == nil {
		return
	}
	r.routes[strings.ToLower(scheme)] = n
}

// Schemes lists registered backends.
func (r *Router) Schemes() []string {
	out := make([]string, 0, len(r.routes))
	for k := range r.routes {
		out = append(out, k)
	}
	return out
}

func (r *Router) SendMessage(ctx context.Context, target, text string) error {
	scheme, rest := splitTarget(target, r.fallback)
	if rest == "" {
		return ErrEmptyTarget
	}
	n, ok := r.routes[scheme]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoRoute, target)
	}
	return n.SendMessage(ctx, rest, text)
}

// Health probes every backend that supports it.
func (r *Router) Health(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for scheme, n := range r.routes {
		hc, ok := n.(HealthChecker)
		if !ok {
			continue
		}
		g.Go(func() error {
			if err := hc.Health(gctx); err != nil {
				return fmt.Errorf("%s: %w", scheme, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func splitTarget(target, fallback string) (scheme, rest string) {
	target = strings.TrimSpace(target)
	if i := strings.IndexByte(target, ':'); i > 0 {
		return strings.ToLower(target[:i]), strings.TrimSpace(target[i+1:])
	}
	return strings.ToLower(fallback), target
}

// Broadcast sends text to every target concurrently and joins the failures.
func Broadcast(ctx context.Context, n Notifier, targets []string, text string) error {
	if n == nil || len(targets) == 0 {
		return nil
	}
	errs := make([]error, len(targets))
	var g errgroup.Group
	g.SetLimit(4)
	for i, t := range targets {
		g.Go(func() error {
			if err := n.SendMessage(ctx, t, text); err != nil {
				errs[i] = fmt.Errorf("%s: %w", t, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Discard drops every message.
type Discard struct{}

func (Discard) SendMessage(context.Context, string, string) error { return nil }
