// Package session binds one locator, one inventory refresher and one board
// into a UI session and keeps the live sessions of the service.
//
// This package is internal to storefinder. A [Registry] hands out sessions
// keyed by UUID and removes them explicitly or once idle. Removing a session
// cancels its context, which abandons any in-flight inventory cycle and ends
// its event streams.
package session
