// Package monitor owns the set of monitored hosts and the worker pool that
// checks them.
//
// A Monitor runs a single control goroutine which receives every check
// result, so host history updates and flip notifications are serialized.
// Its lifecycle is explicit:
//
//	IDLE --Start--> RUNNING --Shutdown--> DRAINING --> STOPPED
//	                   \------------Halt------------->/
//
// Shutdown waits for every submitted check to report back; Halt stops
// the loop without waiting for outstanding results.
package monitor
