package config

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/admission/admission/api"
	"github.com/twitter/admission/admission/execution"
	"github.com/twitter/admission/admission/server"
	"github.com/twitter/admission/cloud/cluster"
	"github.com/twitter/admission/common/stats"
)

// System is a running admission controller with its cluster, execution layer and API.
type System struct {
	Sim        *execution.SimCluster
	Members    *cluster.Cluster
	Executor   *execution.SimExecutor
	Aggregator *server.ClusterTaskAggregator
	Controller *server.Controller
	Api        *api.Server
}

// Create wires every component. The control loop runs right away, polling and
// serving begin with Start.
func (c *Config) Create(clock clockwork.Clock, stat stats.StatsReceiver) (*System, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	thresholds, err := c.Thresholds.Create()
	if err != nil {
		return nil, errors.Wrap(err, "creating thresholds")
	}
	parts, err := c.Cluster.Create(clock, stat)
	if err != nil {
		return nil, errors.Wrap(err, "creating cluster")
	}

	aggregator := server.NewClusterTaskAggregator(parts.Members.Updates(), parts.Sim.CounterFactory(),
		c.Aggregator.Create(), clock, stat.Scope("aggregator"))
	controller, err := server.NewController(c.Controller.Create(thresholds), aggregator, parts.Executor,
		clock, stat.Scope("controller"))
	if err != nil {
		parts.Members.Close()
		return nil, errors.Wrap(err, "creating controller")
	}
	parts.Executor.SetReporter(controller)

	return &System{
		Sim:        parts.Sim,
		Members:    parts.Members,
		Executor:   parts.Executor,
		Aggregator: aggregator,
		Controller: controller,
		Api:        api.NewServer(c.Api.Create(), controller, stat),
	}, nil
}

// Start begins polling the cluster and serving the API.
func (s *System) Start() error {
	s.Aggregator.Start()
	if err := s.Api.Start(); err != nil {
		s.Aggregator.Stop()
		return err
	}
	return nil
}

// Stop shuts the API down, then the control loop and the cluster feeds.
func (s *System) Stop(ctx context.Context) error {
	var result error
	if err := s.Api.Stop(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	s.Controller.Stop()
	s.Aggregator.Stop()
	if err := s.Members.Close(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "closing cluster membership"))
	}
	log.Info("Admission system stopped")
	return result
}
