// Package daemon drives the monitor in rounds: every configured check is
// scheduled against all hosts with a random pause in between, then a zone
// is built from the current health and published when the publish policy
// allows it.
package daemon
