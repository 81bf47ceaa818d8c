package node

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultCapacity is the number of statuses a Node remembers.
const DefaultCapacity = 5

// Status is the outcome of one check against a host.
type Status struct {
	Time   time.Time
	OK     bool
	Reason string
	Cause  error
}

// Node holds the bounded status history of a host, newest first.
type Node struct {
	hostname string
	capacity int
	mutex    sync.Mutex
	history  []Status
	now      func() time.Time
}

// New creates a Node with the given history capacity. A capacity below one
// falls back to DefaultCapacity.
func New(hostname string, capacity int) *Node {
	if capacity < 1 {
		capacity = DefaultCapacity
	}

	return &Node{
		hostname: hostname,
		capacity: capacity,
		history:  make([]Status, 0, capacity),
		now:      time.Now,
	}
}

// Hostname returns the key this node was created for.
func (n *Node) Hostname() string {
	return n.hostname
}

// Record pushes a new status to the front of the history, evicting the
// oldest entry once the node is at capacity.
func (n *Node) Record(ok bool, reason string, cause error) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	entry := Status{Time: n.now(), OK: ok, Reason: reason, Cause: cause}

	if len(n.history) < n.capacity {
		n.history = append(n.history, Status{})
	}
	copy(n.history[1:], n.history[:len(n.history)-1])
	n.history[0] = entry
}

// IsOK reports the outcome of the most recent check. A node that has never
// been checked is not ok.
func (n *Node) IsOK() bool {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	if len(n.history) == 0 {
		return false
	}
	return n.history[0].OK
}

// LastError describes why the node is currently failing.
func (n *Node) LastError() string {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	if len(n.history) == 0 {
		return "no status"
	}

	head := n.history[0]
	if head.OK {
		return "no error"
	}
	if head.Cause == nil {
		return head.Reason
	}
	return fmt.Sprintf("%s %v", head.Reason, head.Cause)
}

// FlippedDown is true when the latest check failed and the one before passed.
func (n *Node) FlippedDown() bool {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	if len(n.history) < 2 {
		return false
	}
	return !n.history[0].OK && n.history[1].OK
}

// FlippedUp is true when the latest check passed and the one before failed.
func (n *Node) FlippedUp() bool {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	if len(n.history) < 2 {
		return false
	}
	return n.history[0].OK && !n.history[1].OK
}

// History returns a copy of the recorded statuses, newest first.
func (n *Node) History() []Status {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	out := make([]Status, len(n.history))
	copy(out, n.history)
	return out
}

func (n *Node) String() string {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	flags := make([]string, len(n.history))
	for i, s := range n.history {
		flags[i] = fmt.Sprintf("%t", s.OK)
	}
	return fmt.Sprintf("%s (%s)", n.hostname, strings.Join(flags, ","))
}
