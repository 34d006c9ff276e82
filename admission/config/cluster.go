package config

import (
	"fmt"
	"sort"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/admission/admission/execution"
	"github.com/twitter/admission/cloud/cluster"
	"github.com/twitter/admission/common/stats"
)

// ClusterParts are the pieces a ClusterConfig creates.
type ClusterParts struct {
	Sim      *execution.SimCluster
	Members  *cluster.Cluster
	Executor *execution.SimExecutor
}

// PlanConfig is the default behavior of simulated queries, see execution.Plan.
type PlanConfig struct {
	Tasks        int
	RampInterval Duration
	RunTime      Duration
}

func (c PlanConfig) Create() execution.Plan {
	return execution.Plan{
		Tasks:        c.Tasks,
		RampInterval: c.RampInterval.Std(),
		RunTime:      c.RunTime.Std(),
	}
}

// ClusterSimConfig simulates a cluster of Nodes workers, node1..nodeN. Membership is
// refetched every FetchInterval. SlowNodes and FailingNodes inject faults into the
// task count polls of the named nodes.
type ClusterSimConfig struct {
	Type          string
	Nodes         int
	FetchInterval Duration
	TeardownDelay Duration
	DefaultPlan   PlanConfig
	SlowNodes     map[string]Duration `json:",omitempty"`
	FailingNodes  []string            `json:",omitempty"`
}

func (c *ClusterSimConfig) Create(clock clockwork.Clock, stat stats.StatsReceiver) (*ClusterParts, error) {
	clock, stat = withDefaults(clock, stat)
	if c.Nodes <= 0 {
		return nil, fmt.Errorf("sim cluster needs at least one node, got %d", c.Nodes)
	}
	if c.FetchInterval <= 0 {
		return nil, fmt.Errorf("sim cluster needs a positive FetchInterval, got %s", c.FetchInterval.Std())
	}
	sim := execution.NewSimCluster(c.Nodes, clock)

	slow := make([]string, 0, len(c.SlowNodes))
	for id := range c.SlowNodes {
		slow = append(slow, id)
	}
	sort.Strings(slow)
	for _, id := range slow {
		node, ok := sim.Node(cluster.NodeId(id))
		if !ok {
			return nil, fmt.Errorf("slow node %s is not part of the cluster", id)
		}
		node.SetDelay(c.SlowNodes[id].Std())
	}
	for _, id := range c.FailingNodes {
		node, ok := sim.Node(cluster.NodeId(id))
		if !ok {
			return nil, fmt.Errorf("failing node %s is not part of the cluster", id)
		}
		node.SetFailure(errors.Errorf("%s is configured to fail", id))
	}
	log.WithFields(
		log.Fields{
			"nodes":        c.Nodes,
			"slowNodes":    slow,
			"failingNodes": c.FailingNodes,
		}).Info("Created simulated cluster")

	initial, err := sim.Fetch()
	if err != nil {
		return nil, errors.Wrap(err, "fetching initial cluster members")
	}
	members := cluster.NewCluster(initial, sim, c.FetchInterval.Std(), clock, 0)
	planner := execution.NewDirectivePlanner(c.DefaultPlan.Create())
	return &ClusterParts{
		Sim:      sim,
		Members:  members,
		Executor: execution.NewSimExecutor(sim, planner, c.TeardownDelay.Std(), clock, stat.Scope("execution")),
	}, nil
}

// ClusterMemoryConfig is a fixed set of in-memory workers with the given ids.
// Membership never changes.
type ClusterMemoryConfig struct {
	Type          string
	Nodes         []string
	TeardownDelay Duration
	DefaultPlan   PlanConfig
}

func (c *ClusterMemoryConfig) Create(clock clockwork.Clock, stat stats.StatsReceiver) (*ClusterParts, error) {
	clock, stat = withDefaults(clock, stat)
	if len(c.Nodes) == 0 {
		return nil, errors.New("memory cluster needs at least one node")
	}
	sim := execution.NewSimCluster(0, clock)
	for _, id := range c.Nodes {
		if _, ok := sim.Node(cluster.NodeId(id)); ok {
			return nil, fmt.Errorf("duplicate node %s", id)
		}
		sim.AddNode(cluster.NodeId(id))
	}
	initial, err := sim.Fetch()
	if err != nil {
		return nil, errors.Wrap(err, "fetching initial cluster members")
	}
	planner := execution.NewDirectivePlanner(c.DefaultPlan.Create())
	return &ClusterParts{
		Sim:      sim,
		Members:  cluster.NewCluster(initial, nil, 0, clock, 0),
		Executor: execution.NewSimExecutor(sim, planner, c.TeardownDelay.Std(), clock, stat.Scope("execution")),
	}, nil
}

func withDefaults(clock clockwork.Clock, stat stats.StatsReceiver) (clockwork.Clock, stats.StatsReceiver) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	return clock, stat
}
