// Copyright 2020 Nathan Taylor (nbtaylor@gmail.com)
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package ilist implements a singly-linked intrusive list whose nodes carry
// their own deleting flag as a per-node exclusion marker: no one appends to
// a node that is being removed.
package ilist

import "sync/atomic"

// Node is embedded in a caller's struct. The zero Node is an unlinked,
// live node.
type Node struct {
	next     atomic.Pointer[Node]
	deleting atomic.Bool
}

// Next returns the node following n, skipping any node whose deleting flag
// is set.
func Next(n *Node) *Node {
	cur := n.next.Load()
	for cur != nil && cur.deleting.Load() {
		cur = cur.next.Load()
	}
	return cur
}

// Append links newNode immediately after node. It fails (returns false) if
// node is currently being deleted; no one may append to a deleting node.
// On a losing race against a concurrent Append it retries against the
// observed next pointer.
func Append(node, newNode *Node) bool {
	if node.deleting.Load() {
		return false
	}
	for {
		next := node.next.Load()
		newNode.next.Store(next)
		if node.next.CompareAndSwap(next, newNode) {
			return true
		}
		if node.deleting.Load() {
			return false
		}
	}
}

// DeleteAfter removes victim from the list, searching for its predecessor
// starting at from. It marks victim.deleting first so that no concurrent
// Append targets it, then unlinks it from its predecessor and clears its
// next pointer. It returns the unlinked node and true on success, or
// (nil, false) if victim could not be found reachable from from.
func DeleteAfter(from, victim *Node) (*Node, bool) {
	victim.deleting.Store(true)

	pred := from
	for {
		next := pred.next.Load()
		if next == nil {
			victim.deleting.Store(false)
			return nil, false
		}
		if next == victim {
			break
		}
		pred = next
	}

	succ := victim.next.Load()
	if !pred.next.CompareAndSwap(victim, succ) {
		// A concurrent append or delete changed pred's next; the caller's
		// documented responsibility is serializing structural mutation
		// against the same region, so this indicates a races-the-spec-
		// forbids usage rather than a condition we retry through.
		victim.deleting.Store(false)
		return nil, false
	}
	victim.next.Store(nil)
	return victim, true
}
