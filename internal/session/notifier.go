package session

import (
	"context"
	"strings"
	"sync/atomic"
)

// Notifier is told when the session starts and when it becomes unusable.
type Notifier interface {
	// OnSessionInvalid is called when the session ended and the user must log in again.
	OnSessionInvalid(ctx context.Context)

	// OnSessionStarted is called after a successful login.
	OnSessionStarted(ctx context.Context)
}

type routeKey struct{}

// WithRoute records the caller's current surface (request path, command name) in ctx.
func WithRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, routeKey{}, route)
}

// RouteFrom returns the route recorded by WithRoute, or "".
func RouteFrom(ctx context.Context) string {
	route, _ := ctx.Value(routeKey{}).(string)
	return route
}

// OnRoutePrefix returns a predicate reporting whether the caller's route starts with prefix.
func OnRoutePrefix(prefix string) func(context.Context) bool {
	return func(ctx context.Context) bool {
		return strings.HasPrefix(RouteFrom(ctx), prefix)
	}
}

// Navigator sends the user to the login surface when the session ends.
//
// It navigates at most once between two logins, and never when the caller is
// already on the login surface, so a login page can probe the session freely.
type Navigator struct {
	onLoginSurface func(context.Context) bool
	navigate       func(context.Context)

	fired   atomic.Bool
	expired atomic.Bool
}

// Compile-time check to ensure Navigator implements Notifier
var _ Notifier = (*Navigator)(nil)

// NewNavigator creates a Navigator. onLoginSurface may be nil, meaning the
// caller is never on the login surface.
func NewNavigator(onLoginSurface func(context.Context) bool, navigate func(context.Context)) *Navigator {
	if onLoginSurface == nil {
		onLoginSurface = func(context.Context) bool { return false }
	}
	if navigate == nil {
		navigate = func(context.Context) {}
	}
	return &Navigator{
		onLoginSurface: onLoginSurface,
		navigate:       navigate,
	}
}

func (n *Navigator) OnSessionInvalid(ctx context.Context) {
	if n.onLoginSurface(ctx) {
		return
	}
	if !n.fired.CompareAndSwap(false, true) {
		return
	}
	n.expired.Store(true)
	n.navigate(ctx)
}

func (n *Navigator) OnSessionStarted(context.Context) {
	n.expired.Store(false)
	n.fired.Store(false)
}

// ConsumeExpired reports whether the session expired since the last call, clearing the flag.
func (n *Navigator) ConsumeExpired() bool {
	return n.expired.Swap(false)
}

// nopNotifier is used when no Notifier is configured.
type nopNotifier struct{}

func (nopNotifier) OnSessionInvalid(context.Context) {}
func (nopNotifier) OnSessionStarted(context.Context) {}
