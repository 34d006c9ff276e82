package cluster

import (
	"sort"

	log "github.com/sirupsen/logrus"
)

type state struct {
	// current view of our nodes
	nodes       map[NodeId]Node
	nopCheckCnt int
}

func makeState() *state {
	return &state{nodes: make(map[NodeId]Node)}
}

// setAndDiff takes the new state as an argument and creates node updates based on the diff.
// Adds come first, then removes, each sorted by id.
func (s *state) setAndDiff(newState []Node) []NodeUpdate {
	added := []Node{}
	current := make(map[NodeId]Node, len(newState))
	for _, n := range newState {
		if _, exists := s.nodes[n.Id()]; !exists {
			added = append(added, n)
		}
		current[n.Id()] = n
	}
	removed := []Node{}
	for id, n := range s.nodes {
		if _, exists := current[id]; !exists {
			removed = append(removed, n)
		}
	}
	sort.Sort(NodeSorter(added))
	sort.Sort(NodeSorter(removed))

	outgoing := []NodeUpdate{}
	for _, n := range added {
		outgoing = append(outgoing, NewAdd(n))
	}
	for _, n := range removed {
		outgoing = append(outgoing, NewRemove(n.Id()))
	}

	if len(outgoing) > 0 {
		log.WithFields(
			log.Fields{
				"added":        len(added),
				"removed":      len(removed),
				"newSize":      len(current),
				"oldSize":      len(s.nodes),
				"nopChecksCnt": s.nopCheckCnt,
			}).Info("Cluster membership changed")
		s.nopCheckCnt = 0
	} else {
		s.nopCheckCnt++
	}
	s.nodes = current
	return outgoing
}

// filterAndUpdate applies explicit updates and returns only the ones that changed membership.
func (s *state) filterAndUpdate(updates []NodeUpdate) []NodeUpdate {
	outgoing := []NodeUpdate{}
	for _, u := range updates {
		switch u.UpdateType {
		case NodeAdded:
			if _, exists := s.nodes[u.Id]; exists {
				log.Infof("Ignoring spurious add of node %s", u.Id)
				continue
			}
			s.nodes[u.Id] = u.Node
		case NodeRemoved:
			if _, exists := s.nodes[u.Id]; !exists {
				log.Infof("Ignoring remove of unknown node %s", u.Id)
				continue
			}
			delete(s.nodes, u.Id)
		}
		outgoing = append(outgoing, u)
	}
	return outgoing
}

func (s *state) members() []Node {
	r := make([]Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		r = append(r, n)
	}
	sort.Sort(NodeSorter(r))
	return r
}
