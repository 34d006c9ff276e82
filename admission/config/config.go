// Package config builds a complete admission system from a JSON configuration.
//
// The configuration has one object per section. The Cluster section is typed: its
// "Type" field picks which ClusterConfig parses it, a missing section uses the
// Parser's "" entry. The other sections overlay the Parser's defaults, so a config
// only lists what it changes. Durations are strings ("250ms", "2s").
package config

import (
	"encoding/json"
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/twitter/admission/admission/api"
	"github.com/twitter/admission/admission/domain"
	"github.com/twitter/admission/admission/server"
	"github.com/twitter/admission/common/stats"
)

// Config is the top-level configuration of the admission server.
type Config struct {
	Cluster    ClusterConfig
	Aggregator AggregatorConfig
	Controller ControllerConfig
	Thresholds ThresholdsConfig
	Api        ApiConfig
}

// ClusterConfig creates the worker nodes, their membership feed and the execution layer.
type ClusterConfig interface {
	Create(clock clockwork.Clock, stat stats.StatsReceiver) (*ClusterParts, error)
}

type AggregatorConfig struct {
	PollInterval       Duration
	NodeTimeout        Duration
	MaxConcurrentPolls int
	NodeBackoffInitial Duration
	NodeBackoffMax     Duration
}

func (c AggregatorConfig) Create() server.AggregatorConfig {
	return server.AggregatorConfig{
		PollInterval:       c.PollInterval.Std(),
		NodeTimeout:        c.NodeTimeout.Std(),
		MaxConcurrentPolls: c.MaxConcurrentPolls,
		NodeBackoffInitial: c.NodeBackoffInitial.Std(),
		NodeBackoffMax:     c.NodeBackoffMax.Std(),
	}
}

type ControllerConfig struct {
	StartTimeout     Duration
	CancelTimeout    Duration
	TerminateTimeout Duration
	HistorySize      int
	TickRate         Duration
}

func (c ControllerConfig) Create(thresholds domain.Thresholds) server.ControllerConfig {
	return server.ControllerConfig{
		Thresholds:       thresholds,
		StartTimeout:     c.StartTimeout.Std(),
		CancelTimeout:    c.CancelTimeout.Std(),
		TerminateTimeout: c.TerminateTimeout.Std(),
		HistorySize:      c.HistorySize,
		TickRate:         c.TickRate.Std(),
	}
}

// ThresholdsConfig holds the admission thresholds. Properties uses the coordinator
// property names and wins over the fields.
type ThresholdsConfig struct {
	MaxQueryRunningTaskCount                     int
	MaxTotalRunningTaskCountToKillQuery          int
	MaxTotalRunningTaskCountToNotExecuteNewQuery int
	Properties                                   map[string]string `json:",omitempty"`
}

func (c ThresholdsConfig) Create() (domain.Thresholds, error) {
	base := domain.Thresholds{
		MaxQueryRunningTaskCount:                     c.MaxQueryRunningTaskCount,
		MaxTotalRunningTaskCountToKillQuery:          c.MaxTotalRunningTaskCountToKillQuery,
		MaxTotalRunningTaskCountToNotExecuteNewQuery: c.MaxTotalRunningTaskCountToNotExecuteNewQuery,
	}
	if err := base.Validate(); err != nil {
		return base, err
	}
	return domain.ThresholdsFromProperties(base, c.Properties)
}

type ApiConfig struct {
	HttpAddr     string
	GrpcAddr     string
	MaxConns     int
	SubmitRate   float64
	SubmitBurst  int
	ReadTimeout  Duration
	WriteTimeout Duration
}

func (c ApiConfig) Create() api.Options {
	return api.Options{
		HttpAddr:     c.HttpAddr,
		GrpcAddr:     c.GrpcAddr,
		MaxConns:     c.MaxConns,
		SubmitRate:   c.SubmitRate,
		SubmitBurst:  c.SubmitBurst,
		ReadTimeout:  c.ReadTimeout.Std(),
		WriteTimeout: c.WriteTimeout.Std(),
	}
}

// Admission config parsed from JSON. Missing sections are left empty.
type topLevelConfig struct {
	Cluster    json.RawMessage
	Aggregator json.RawMessage
	Controller json.RawMessage
	Thresholds json.RawMessage
	Api        json.RawMessage
}

type typeConfig struct {
	Type string
}

var emptyJson = []byte("{}")

func parseType(data json.RawMessage) (string, []byte, error) {
	if len(data) == 0 {
		return "", emptyJson, nil
	}
	var t typeConfig
	if err := json.Unmarshal(data, &t); err != nil {
		return "", nil, err
	}
	return t.Type, data, nil
}

// Parser holds how to parse our configs. Cluster maps a "Type" value to a function
// creating the config it unmarshals into; "" is used when the section is missing.
// The remaining fields are the defaults each section is parsed over.
type Parser struct {
	Cluster map[string]func() ClusterConfig

	Aggregator AggregatorConfig
	Controller ControllerConfig
	Thresholds ThresholdsConfig
	Api        ApiConfig
}

// Create parses and creates in one step.
func (p *Parser) Create(configText []byte, clock clockwork.Clock, stat stats.StatsReceiver) (*System, error) {
	c, err := p.Parse(configText)
	if err != nil {
		return nil, err
	}
	return c.Create(clock, stat)
}

// Generates the JSON config that results from the empty string; useful for showing a complete configuration.
func (p *Parser) DefaultJSON() ([]byte, error) {
	c, err := p.Parse(nil)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(c, "", "  ")
}

func (p *Parser) Parse(configText []byte) (*Config, error) {
	if len(configText) == 0 {
		configText = emptyJson
	}
	var cfg topLevelConfig
	if err := json.Unmarshal(configText, &cfg); err != nil {
		return nil, fmt.Errorf("Couldn't parse top-level config: %v", err)
	}

	clusterType, clusterData, err := parseType(cfg.Cluster)
	if err != nil {
		return nil, fmt.Errorf("Couldn't parse Cluster type: %v (config: %s)", err, cfg.Cluster)
	}
	newCluster, ok := p.Cluster[clusterType]
	if !ok {
		return nil, fmt.Errorf("No parser for cluster type %q", clusterType)
	}
	clusterConfig := newCluster()
	if err := json.Unmarshal(clusterData, clusterConfig); err != nil {
		return nil, fmt.Errorf("Couldn't parse Cluster: %v (config: %s; type: %s)", err, clusterData, clusterType)
	}

	r := &Config{
		Cluster:    clusterConfig,
		Aggregator: p.Aggregator,
		Controller: p.Controller,
		Thresholds: p.Thresholds,
		Api:        p.Api,
	}
	r.Thresholds.Properties = copyProperties(p.Thresholds.Properties)
	sections := []struct {
		name string
		data json.RawMessage
		dst  interface{}
	}{
		{"Aggregator", cfg.Aggregator, &r.Aggregator},
		{"Controller", cfg.Controller, &r.Controller},
		{"Thresholds", cfg.Thresholds, &r.Thresholds},
		{"Api", cfg.Api, &r.Api},
	}
	for _, s := range sections {
		if len(s.data) == 0 {
			continue
		}
		if err := json.Unmarshal(s.data, s.dst); err != nil {
			return nil, fmt.Errorf("Couldn't parse %s: %v (config: %s)", s.name, err, s.data)
		}
	}
	return r, nil
}

func copyProperties(props map[string]string) map[string]string {
	if props == nil {
		return nil
	}
	c := make(map[string]string, len(props))
	for k, v := range props {
		c[k] = v
	}
	return c
}
