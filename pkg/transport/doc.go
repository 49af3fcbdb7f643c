// Package transport maintains the websocket event channel to the
// current server: named JSON events out, named JSON events in, with
// bounded auto-reconnect when the link drops.
package transport
