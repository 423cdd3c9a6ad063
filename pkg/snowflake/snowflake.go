// Package snowflake generates time-ordered 63-bit message ids:
// 41 bits of milliseconds since Epoch, 10 bits of node, 12 bits of sequence.
package snowflake

import (
	"errors"
	"sync"
	"time"
)

const (
	nodeBits  = 10
	stepBits  = 12
	nodeMax   = -1 ^ (-1 << nodeBits)
	stepMask  = -1 ^ (-1 << stepBits)
	timeShift = nodeBits + stepBits
	nodeShift = stepBits
)

// Epoch is 2024-01-01 00:00:00 UTC in unix milliseconds.
const Epoch int64 = 1704067200000

var ErrNodeRange = errors.New("snowflake: node number must be between 0 and 1023")

type Node struct {
	mu    sync.Mutex
	last  int64
	node  int64
	step  int64
	clock func() int64
}

func NewNode(node int64) (*Node, error) {
	if node < 0 || node > nodeMax {
		return nil, ErrNodeRange
	}
	return &Node{
		node:  node,
		clock: func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// Generate returns an id greater than every id this node returned before,
// even when the wall clock steps backwards.
func (n *Node) Generate() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.clock()
	if now < n.last {
		now = n.last
	}

	if now == n.last {
		n.step = (n.step + 1) & stepMask
		if n.step == 0 {
			// sequence exhausted for this millisecond
			for now <= n.last {
				now = max(n.clock(), n.last+1)
			}
		}
	} else {
		n.step = 0
	}
	n.last = now

	return ((now - Epoch) << timeShift) | (n.node << nodeShift) | n.step
}

// Time recovers the creation time encoded in id.
func Time(id int64) time.Time {
	return time.UnixMilli((id >> timeShift) + Epoch)
}

func NodeOf(id int64) int64 {
	return (id >> nodeShift) & nodeMax
}
