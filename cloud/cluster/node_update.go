package cluster

import (
	"fmt"
)

type NodeUpdateType int

const (
	NodeAdded NodeUpdateType = iota
	NodeRemoved
)

func (t NodeUpdateType) String() string {
	switch t {
	case NodeAdded:
		return "NodeAdded"
	case NodeRemoved:
		return "NodeRemoved"
	}
	return fmt.Sprintf("NodeUpdateType(%d)", int(t))
}

// NodeUpdate represents a change to the cluster
type NodeUpdate struct {
	UpdateType NodeUpdateType
	Id         NodeId
	Node       Node // Only set for adds
}

func (u NodeUpdate) String() string {
	return fmt.Sprintf("%v %v", u.UpdateType, u.Id)
}

func NewAdd(node Node) NodeUpdate {
	return NodeUpdate{
		UpdateType: NodeAdded,
		Id:         node.Id(),
		Node:       node,
	}
}

func NewRemove(id NodeId) NodeUpdate {
	return NodeUpdate{
		UpdateType: NodeRemoved,
		Id:         id,
	}
}
