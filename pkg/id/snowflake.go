// Package id generates time-ordered int64 identifiers for persisted entities.
package id

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// Generator produces unique ids
type Generator interface {
	Next() int64
}

// Node generates Snowflake ids. Ids are unique across instances as long as
// each instance runs with its own node id.
type Node struct {
	node *snowflake.Node
}

// NewNode creates a Snowflake generator for the given node id (0-1023)
func NewNode(nodeID int64) (*Node, error) {
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node %d: %w", nodeID, err)
	}
	return &Node{node: n}, nil
}

// MustNode is like NewNode but panics on an invalid node id
func MustNode(nodeID int64) *Node {
	n, err := NewNode(nodeID)
	if err != nil {
		panic(err)
	}
	return n
}

// Next returns a new id
func (n *Node) Next() int64 {
	return n.node.Generate().Int64()
}
