// Package node tracks the recent health history of a single monitored host.
// A Node keeps a short, newest-first list of check outcomes and derives the
// host's current state and whether it just went down or came back up.
package node
