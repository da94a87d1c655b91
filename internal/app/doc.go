// Package app is the composition root of rentstream.
//
// New builds exactly one instance of every service from a validated
// configuration and wires them together:
//
//	chain websocket ──► subscription.Manager ──► notify.Dispatcher ──► store, channels, toasts
//	                         │   (fallback: chain.Client polling)
//	                         ▼
//	                  pubsub.Registry ──► analytics.Forwarder, httpapi.Hub
//
// Run starts the forwarder, the HTTP API and the subscription. Shutdown
// releases them in dependency order. Nothing in the process is reachable
// through a package-level singleton; tests build their own Application
// with fake dialers, senders and sinks.
package app
