package tree

import (
	"encoding/json"
	"fmt"
)

// jsonNode mirrors the tree description consumed by the Data Explorer.
// Fields are declared in alphabetical order so the encoded keys come out
// sorted, matching the artifact layout.
type jsonNode struct {
	Children []*jsonNode `json:"children,omitempty"`
	ID       int         `json:"id"`
	Length   float64     `json:"length"`
	Name     string      `json:"name"`
}

func (node *Node) jsonNode() *jsonNode {
	jn := &jsonNode{
		ID:     node.ID,
		Length: node.BranchLength,
		Name:   node.Name,
	}
	switch {
	case node.IsRoot():
		jn.Name = "Root"
		jn.Length = 0
	case !node.IsTerminal():
		jn.Name = "Internal"
	}
	for _, child := range node.childNodes {
		jn.Children = append(jn.Children, child.jsonNode())
	}
	return jn
}

// MarshalJSON serializes the tree as nested node objects with id, parent
// link (implied by nesting), branch length and name. The root is named
// "Root" and carries zero length, internal nodes are named "Internal".
func (tree *Tree) MarshalJSON() ([]byte, error) {
	return json.Marshal(tree.jsonNode())
}

func (jn *jsonNode) node(parent *Node) *Node {
	node := &Node{
		ID:           jn.ID,
		Name:         jn.Name,
		BranchLength: jn.Length,
		Parent:       parent,
	}
	if len(jn.Children) > 0 {
		node.Name = ""
	}
	for _, jc := range jn.Children {
		node.childNodes = append(node.childNodes, jc.node(node))
	}
	return node
}

// UnmarshalJSON parses a tree serialized by MarshalJSON. Node ids,
// parent relations, names and branch lengths are reproduced exactly.
func (tree *Tree) UnmarshalJSON(data []byte) error {
	var jn jsonNode
	if err := json.Unmarshal(data, &jn); err != nil {
		return err
	}
	tree.Node = jn.node(nil)
	tree.nNodes = tree.NSubNodes()
	tree.nodes = nil
	tree.nLeaves = 0
	for range tree.Terminals() {
		tree.nLeaves++
	}
	if err := tree.Validate(); err != nil {
		return fmt.Errorf("invalid tree description: %v", err)
	}
	return nil
}
