package execution

import (
	"bufio"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/twitter/admission/admission/domain"
)

// Plan describes how a simulated query behaves once started.
type Plan struct {
	// Tasks the query scales up to, placed one at a time.
	Tasks int

	// Time between two task placements.
	RampInterval time.Duration

	// Time the query runs once all its tasks are placed.
	RunTime time.Duration

	// If set the query fails with this message instead of finishing.
	FailMessage string

	// If set the query never completes on its own.
	Hang bool

	// If set Start is refused with this message.
	StartError string
}

// TaskPlanner decides the plan for a query.
type TaskPlanner func(def domain.QueryDefinition) (Plan, error)

const directivePrefix = "-- sim "

// NewDirectivePlanner returns a planner starting from defaults and applying the
// simulation directives found in the query text, one per line:
//
//	-- sim tasks <n>
//	  scale up to n tasks
//	-- sim ramp <duration>
//	  wait duration between placing two tasks
//	-- sim run <duration>
//	  run for duration once every task is placed
//	-- sim fail <message>
//	  fail with message instead of finishing
//	-- sim hang
//	  never finish, only cancel or terminate end the query
//	-- sim reject <message>
//	  refuse to start the query
//
// Lines that are not directives are ignored, so directives can sit in any SQL text.
func NewDirectivePlanner(defaults Plan) TaskPlanner {
	return func(def domain.QueryDefinition) (Plan, error) {
		plan := defaults
		scanner := bufio.NewScanner(strings.NewReader(def.Query))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, directivePrefix) {
				continue
			}
			if err := applyDirective(&plan, strings.TrimPrefix(line, directivePrefix)); err != nil {
				return Plan{}, err
			}
		}
		if err := scanner.Err(); err != nil {
			return Plan{}, errors.Wrap(err, "reading query text")
		}
		return plan, nil
	}
}

func applyDirective(plan *Plan, directive string) error {
	splits := strings.SplitN(strings.TrimSpace(directive), " ", 2)
	opcode, rest := splits[0], ""
	if len(splits) == 2 {
		rest = strings.TrimSpace(splits[1])
	}
	switch opcode {
	case "tasks":
		n, err := strconv.Atoi(rest)
		if err != nil || n < 0 {
			return errors.Errorf("error parsing <n> in tasks <n>: %q", rest)
		}
		plan.Tasks = n
	case "ramp":
		d, err := time.ParseDuration(rest)
		if err != nil {
			return errors.Wrapf(err, "error parsing <duration> in ramp <duration>")
		}
		plan.RampInterval = d
	case "run":
		d, err := time.ParseDuration(rest)
		if err != nil {
			return errors.Wrapf(err, "error parsing <duration> in run <duration>")
		}
		plan.RunTime = d
	case "fail":
		if rest == "" {
			rest = "simulated failure"
		}
		plan.FailMessage = rest
	case "hang":
		plan.Hang = true
	case "reject":
		if rest == "" {
			rest = "simulated start failure"
		}
		plan.StartError = rest
	default:
		return errors.Errorf("can't simulate directive: %q", directive)
	}
	return nil
}
