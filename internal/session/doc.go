// Package session keeps the dashboard's backend session alive.
//
// A Coordinator owns the token pair in a tokenstore.Store. It hands out the
// stored access token while it is unexpired, renews it through the backend's
// refresh endpoint when it is not, and collapses concurrent renewals into a
// single request whose outcome every waiting caller shares:
//
//	coord, err := session.NewCoordinator(store, client, navigator)
//	token, err := coord.ValidAccessToken(ctx)
//	if errors.Is(err, session.ErrSessionExpired) {
//		// stop; the Notifier has already sent the user to the login surface
//	}
//
// When renewal fails the pair is cleared and the Notifier is told once. A
// Navigator is the stock Notifier: it redirects at most once per failure chain
// and never while the caller is already on the login surface.
package session
