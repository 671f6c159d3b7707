// Package render drives a headless browser to read pages whose numbers only appear after
// JavaScript runs.
package render

import "context"

// MobileSafariUA is sent on every navigation. Some sources serve different markup per client.
const MobileSafariUA = "Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1"

// Engine opens browser sessions
type Engine interface {
	NewSession(ctx context.Context) (Session, error)
}

// Session is one browser tab. All calls return once the page answers or ctx is done.
type Session interface {
	// Navigate loads url and returns after the load event fires
	Navigate(ctx context.Context, url string) error
	// Location returns the URL of the loaded document after redirects
	Location(ctx context.Context) (string, error)
	// Evaluate runs script in the page and returns its string result
	Evaluate(ctx context.Context, script string) (string, error)
	// Close stops any navigation and releases the tab. It is safe to call more than once.
	Close()
}
