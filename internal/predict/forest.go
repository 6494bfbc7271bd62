package predict

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrBadModel is returned for model files that cannot be used
var ErrBadModel = errors.New("predict: bad model")

// Node is one decision-tree node; a node with Leaf set is terminal
// Non-terminal nodes go Left when the feature is <= Threshold, Right otherwise
type Node struct {
	Feature   string  `yaml:"feature"`
	Threshold float64 `yaml:"threshold"`
	Left      int     `yaml:"left"`
	Right     int     `yaml:"right"`
	Leaf      *int    `yaml:"leaf"`
}

// Tree is a flat list of nodes rooted at index 0
type Tree struct {
	Nodes []Node `yaml:"nodes"`
}

type compiledNode struct {
	feature     int
	threshold   float64
	left, right int
	leaf        int
	terminal    bool
}

// Forest is a decision-tree ensemble classifier using majority vote
type Forest struct {
	classes int
	trees   [][]compiledNode
}

// NewForest validates and compiles a tree ensemble
// Children must have a higher index than their parent so evaluation always terminates
func NewForest(classes int, trees []Tree) (*Forest, error) {
	if classes < 1 {
		return nil, fmt.Errorf("%w: classes must be at least 1", ErrBadModel)
	}
	if len(trees) == 0 {
		return nil, fmt.Errorf("%w: no trees", ErrBadModel)
	}

	f := &Forest{classes: classes, trees: make([][]compiledNode, len(trees))}
	for ti, t := range trees {
		if len(t.Nodes) == 0 {
			return nil, fmt.Errorf("%w: tree %d is empty", ErrBadModel, ti)
		}
		nodes := make([]compiledNode, len(t.Nodes))
		for ni, n := range t.Nodes {
			if n.Leaf != nil {
				if *n.Leaf < 0 || *n.Leaf >= classes {
					return nil, fmt.Errorf("%w: tree %d node %d: leaf class %d out of range", ErrBadModel, ti, ni, *n.Leaf)
				}
				nodes[ni] = compiledNode{leaf: *n.Leaf, terminal: true}
				continue
			}
			idx, ok := FeatureIndex(n.Feature)
			if !ok {
				return nil, fmt.Errorf("%w: tree %d node %d: unknown feature %q", ErrBadModel, ti, ni, n.Feature)
			}
			for _, child := range []int{n.Left, n.Right} {
				if child <= ni || child >= len(t.Nodes) {
					return nil, fmt.Errorf("%w: tree %d node %d: bad child %d", ErrBadModel, ti, ni, child)
				}
			}
			nodes[ni] = compiledNode{feature: idx, threshold: n.Threshold, left: n.Left, right: n.Right}
		}
		f.trees[ti] = nodes
	}
	return f, nil
}

// Classify implements Classifier; ties go to the lower class
func (f *Forest) Classify(v Vector) int {
	votes := make([]int, f.classes)
	for _, nodes := range f.trees {
		votes[evalTree(nodes, v)]++
	}
	best := 0
	for c := 1; c < len(votes); c++ {
		if votes[c] > votes[best] {
			best = c
		}
	}
	return best
}

func evalTree(nodes []compiledNode, v Vector) int {
	i := 0
	for !nodes[i].terminal {
		n := nodes[i]
		if v[n.feature] <= n.threshold {
			i = n.left
		} else {
			i = n.right
		}
	}
	return nodes[i].leaf
}

// ModelFile is the on-disk classifier format
type ModelFile struct {
	Type    string `yaml:"type"` // "rules" or "forest"
	Rules   []Rule `yaml:"rules"`
	Classes int    `yaml:"classes"`
	Trees   []Tree `yaml:"trees"`
}

// ParseModel builds a classifier from YAML model data
func ParseModel(data []byte) (Classifier, error) {
	var mf ModelFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadModel, err)
	}
	switch mf.Type {
	case "rules":
		return NewRules(mf.Rules)
	case "forest":
		return NewForest(mf.Classes, mf.Trees)
	default:
		return nil, fmt.Errorf("%w: unknown model type %q", ErrBadModel, mf.Type)
	}
}

// LoadClassifier reads a model file, or compiles fallback when path is empty
func LoadClassifier(path string, fallback []Rule) (Classifier, error) {
	if path == "" {
		return NewRules(fallback)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("predict: read model: %w", err)
	}
	c, err := ParseModel(data)
	if err != nil {
		return nil, fmt.Errorf("predict: %s: %w", path, err)
	}
	return c, nil
}
