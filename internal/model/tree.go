package model

import (
	"fmt"
	"math"
)

// Node is one entry of a flattened binary tree. Children always have a
// larger index than their parent, so the root is node 0.
type Node struct {
	Feature     int     `json:"feature"`
	Threshold   float64 `json:"threshold"`
	Left        int     `json:"left"`
	Right       int     `json:"right"`
	DefaultLeft bool    `json:"default_left,omitempty"`

	// Leaf is the margin contribution of a boosted-tree leaf.
	Leaf *float64 `json:"leaf,omitempty"`

	// Samples is the training sample count of an isolation-tree leaf.
	Samples *int `json:"samples,omitempty"`
}

// Tree is a flattened binary tree.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// validate checks child indices and feature references. isLeaf tells which
// nodes terminate a path for this tree kind.
func (t Tree) validate(numFeatures int, isLeaf func(Node) bool) error {
	if len(t.Nodes) == 0 {
		return fmt.Errorf("tree has no nodes")
	}
	for i, n := range t.Nodes {
		if isLeaf(n) {
			continue
		}
		if n.Feature < 0 || n.Feature >= numFeatures {
			return fmt.Errorf("node %d: feature %d out of range [0,%d)", i, n.Feature, numFeatures)
		}
		if math.IsNaN(n.Threshold) {
			return fmt.Errorf("node %d: threshold is NaN", i)
		}
		for _, child := range []int{n.Left, n.Right} {
			if child <= i || child >= len(t.Nodes) {
				return fmt.Errorf("node %d: child index %d invalid", i, child)
			}
		}
	}
	return nil
}

// walk follows x from the root to a leaf and returns the leaf and its depth.
// goLeft decides the branch at each split node.
func (t Tree) walk(x []float64, isLeaf func(Node) bool, goLeft func(n Node, v float64) bool) (Node, int) {
	idx, depth := 0, 0
	for {
		n := t.Nodes[idx]
		if isLeaf(n) {
			return n, depth
		}
		if goLeft(n, x[n.Feature]) {
			idx = n.Left
		} else {
			idx = n.Right
		}
		depth++
	}
}
