package stats

import (
	"bytes"
	"fmt"
	"testing"
)

// Utilities for validating the stats registry contents from tests.

// RuleChecker compares a 'got' value from the rendered registry against an 'expected' value.
type RuleChecker struct {
	name    string
	checker func(got, expected interface{}) bool
}

func nilCheck(a, b interface{}) (nilFound, eqValues bool) {
	if a == nil && b == nil {
		return true, true
	} else if a == nil || b == nil {
		return true, false
	}
	return false, false
}

func int64Of(v interface{}) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	}
	panic(fmt.Sprintf("not an integer: %v", v))
}

// errors if a is not float64, returns true if a == b
func floatEqTest(a, b interface{}) bool {
	if nilFound, eqValue := nilCheck(a, b); nilFound {
		return eqValue
	}
	return a.(float64) == b.(float64)
}

var FloatEqTest = RuleChecker{name: "floatEqTest", checker: floatEqTest}

// errors if a is not float64, returns true if a > b
func floatGTTest(a, b interface{}) bool {
	if nilFound, eqValue := nilCheck(a, b); nilFound {
		return eqValue
	}
	return a.(float64) > b.(float64)
}

var FloatGTTest = RuleChecker{name: "floatGTTest", checker: floatGTTest}

func int64EqTest(a, b interface{}) bool {
	if nilFound, eqValue := nilCheck(a, b); nilFound {
		return eqValue
	}
	return int64Of(a) == int64Of(b)
}

var Int64EqTest = RuleChecker{name: "int64EqTest", checker: int64EqTest}

func int64GTTest(a, b interface{}) bool {
	if nilFound, eqValue := nilCheck(a, b); nilFound {
		return eqValue
	}
	return int64Of(a) > int64Of(b)
}

var Int64GTTest = RuleChecker{name: "int64GTTest", checker: int64GTTest}

func doesNotExistTest(a, b interface{}) bool {
	return a == nil
}

var DoesNotExistTest = RuleChecker{name: "doesNotExistTest", checker: doesNotExistTest}

// Rule defines the condition checker used to validate a measurement.
type Rule struct {
	Checker RuleChecker
	Value   interface{}
}

// StatsOk verifies that the registry contains values for the keys in the contains map and that
// each entry conforms to its rule. Failures are reported through t.Error and the registry is dumped.
// Only finagle registries are supported, anything else returns false.
func StatsOk(tag string, statsRegistry StatsRegistry, t *testing.T, contains map[string]Rule) bool {
	t.Helper()
	asFinagleRegistry, ok := statsRegistry.(*finagleStatsRegistry)
	if !ok {
		t.Errorf("%s: stats registry is not a finagle registry: %T", tag, statsRegistry)
		return false
	}

	failed := false
	var msg bytes.Buffer
	msg.WriteString(tag)
	msg.WriteString(":stats registry error:\n")

	asJson := asFinagleRegistry.MarshalAll()
	for key, rule := range contains {
		gotValue := asJson[key]
		if rule.Checker.checker(gotValue, rule.Value) {
			continue
		}
		failed = true
		if rule.Checker.name == DoesNotExistTest.name {
			msg.WriteString(fmt.Sprintf("%s: found stat entry when there should not be one\n", key))
		} else {
			msg.WriteString(fmt.Sprintf("%s: got %v, expected to pass %s with %v\n", key, gotValue, rule.Checker.name, rule.Value))
		}
	}
	if failed {
		t.Error(msg.String())
		PPrintStats(tag, asFinagleRegistry)
	}
	return !failed
}

func PPrintStats(tag string, statsRegistry StatsRegistry) {
	fmt.Printf("%s:  Stats Registry:\n", tag)
	if mp, ok := statsRegistry.(MarshalerPretty); ok {
		regBytes, _ := mp.MarshalJSONPretty()
		fmt.Printf("%s\n", regBytes)
	}
}
