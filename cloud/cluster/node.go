package cluster

import (
	"fmt"
)

type NodeId string

// Node is a worker in the cluster that runs query tasks.
type Node interface {
	// A unique node identifier, like 'host:port'
	Id() NodeId

	// Location to reach the node at, like 'http://host:port', depending on concrete node type.
	Status() string
}

type idNode struct {
	id     NodeId
	status string
}

func (n *idNode) String() string {
	return string(n.id)
}

func NewIdNode(id string) Node {
	return &idNode{id: NodeId(id)}
}

func NewIdStatusNode(id, status string) Node {
	return &idNode{id: NodeId(id), status: status}
}

// NewIdNodes returns num nodes named node1..nodeN.
func NewIdNodes(num int) []Node {
	r := []Node{}
	for i := 0; i < num; i++ {
		r = append(r, NewIdNode(fmt.Sprintf("node%d", i+1)))
	}
	return r
}

func (n *idNode) Id() NodeId {
	return n.id
}

func (n *idNode) Status() string {
	return n.status
}

var _ Node = (*idNode)(nil)

type NodeSorter []Node

func (n NodeSorter) Len() int           { return len(n) }
func (n NodeSorter) Swap(i, j int)      { n[i], n[j] = n[j], n[i] }
func (n NodeSorter) Less(i, j int) bool { return n[i].Id() < n[j].Id() }
