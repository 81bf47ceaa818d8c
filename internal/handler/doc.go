// Package handler implements the read-only HTTP endpoints of the daemon:
// liveness, a JSON status report of every monitored host and the last
// published zone.
package handler
