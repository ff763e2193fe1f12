// Package events fans session lifecycle events out to websocket subscribers.
//
// The facade publishes to a Hub; the Gateway upgrades authenticated HTTP
// requests and streams each client the events of its own user only.
package events
