package config

import (
	"fmt"
	"regexp"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
)

func DefaultParser() *Parser {
	return &Parser{
		Cluster: map[string]func() ClusterConfig{
			"sim":    func() ClusterConfig { return &ClusterSimConfig{FetchInterval: Duration(time.Second)} },
			"memory": func() ClusterConfig { return &ClusterMemoryConfig{} },
			"": func() ClusterConfig {
				return &ClusterSimConfig{
					Type:          "sim",
					Nodes:         4,
					FetchInterval: Duration(time.Second),
					TeardownDelay: Duration(100 * time.Millisecond),
					DefaultPlan:   PlanConfig{Tasks: 1, RunTime: Duration(time.Second)},
				}
			},
		},
		Aggregator: AggregatorConfig{
			PollInterval:       Duration(250 * time.Millisecond),
			NodeTimeout:        Duration(100 * time.Millisecond),
			MaxConcurrentPolls: 32,
			NodeBackoffInitial: Duration(500 * time.Millisecond),
			NodeBackoffMax:     Duration(10 * time.Second),
		},
		Controller: ControllerConfig{
			StartTimeout:     Duration(5 * time.Second),
			CancelTimeout:    Duration(5 * time.Second),
			TerminateTimeout: Duration(5 * time.Second),
			HistorySize:      1000,
			TickRate:         Duration(250 * time.Millisecond),
		},
		Api: ApiConfig{
			HttpAddr:     "localhost:9094",
			GrpcAddr:     "localhost:9095",
			MaxConns:     256,
			SubmitRate:   50,
			SubmitBurst:  100,
			ReadTimeout:  Duration(10 * time.Second),
			WriteTimeout: Duration(10 * time.Second),
		},
	}
}

// Named configurations, selectable with -config.
var namedConfigs = map[string]string{
	"default": `{}`,

	"local.memory": `{
  "Cluster": {
    "Type": "memory",
    "Nodes": ["worker-a", "worker-b", "worker-c"],
    "TeardownDelay": "50ms",
    "DefaultPlan": {"Tasks": 2, "RampInterval": "100ms", "RunTime": "5s"}
  },
  "Thresholds": {
    "MaxQueryRunningTaskCount": 8,
    "MaxTotalRunningTaskCountToKillQuery": 12,
    "MaxTotalRunningTaskCountToNotExecuteNewQuery": 6
  }
}`,

	"local.sim": `{
  "Cluster": {
    "Type": "sim",
    "Nodes": 6,
    "FetchInterval": "1s",
    "TeardownDelay": "200ms",
    "DefaultPlan": {"Tasks": 4, "RampInterval": "50ms", "RunTime": "10s"},
    "SlowNodes": {"node5": "500ms"},
    "FailingNodes": ["node6"]
  },
  "Aggregator": {
    "NodeTimeout": "200ms"
  },
  "Thresholds": {
    "Properties": {
      "max-query-running-task-count": "20",
      "max-total-running-task-count-to-kill-query": "40",
      "experimental.max-total-running-task-count-to-not-execute-new-query": "30"
    }
  }
}`,
}

// ConfigNames lists the named configurations.
func ConfigNames() []string {
	names := make([]string, 0, len(namedConfigs))
	for name := range namedConfigs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var configNameRegexp = regexp.MustCompile(`^[[:alnum:]]+(\.[[:alnum:]]+)?$`)

// GetConfigText finds the right text for a configFlag.
// If configFlag looks like a name (foo or foo.bar, alphanumeric), it must be a named configuration.
// Otherwise, assume it's the literal json text.
func GetConfigText(configFlag string) ([]byte, error) {
	if configNameRegexp.MatchString(configFlag) {
		text, ok := namedConfigs[configFlag]
		if !ok {
			return nil, fmt.Errorf("Unknown config %q, known configs: %v", configFlag, ConfigNames())
		}
		log.Infof("Using named config %s", configFlag)
		return []byte(text), nil
	}
	log.Infof("Using -config as JSON config: %v", configFlag)
	return []byte(configFlag), nil
}
