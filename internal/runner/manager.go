package runner

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/luispater/anyWebDriver/internal/driver"
	"github.com/luispater/anyWebDriver/internal/method"
	log "github.com/sirupsen/logrus"
)

type RunnerResult struct {
	Value any
	Type  string
}

// Runner executes the steps of one scenario against a driver.
type Runner struct {
	scenario *Scenario
	driver   driver.WebDriver
	method   *method.Method

	mu      sync.RWMutex
	results map[string]RunnerResult
	abort   atomic.Bool
}

var (
	methodType  = reflect.TypeOf(&method.Method{})
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// action names that do not follow the kebab-case rule
var actionNames = map[string]string{
	"url":        "URL",
	"expect-url": "ExpectURL",
	"sleep":      "SleepMilliseconds",
}

func NewRunner(scenario *Scenario, d driver.WebDriver) *Runner {
	return &Runner{
		scenario: scenario,
		driver:   d,
		method:   method.NewMethod(d),
		results:  make(map[string]RunnerResult),
	}
}

// Abort stops the run before the next step.
func (r *Runner) Abort() {
	r.abort.Store(true)
}

func (r *Runner) SetVariable(name string, value any, valueType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[name] = RunnerResult{
		Value: value,
		Type:  valueType,
	}
}

func (r *Runner) Variable(name string) (RunnerResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result, ok := r.results[name]
	return result, ok
}

// Run applies the scenario wait, opens its url and executes every step in
// order. The first failing step stops the run.
func (r *Runner) Run(ctx context.Context) error {
	if r.scenario.Wait != nil {
		timeouts := r.driver.Manage().Timeouts()
		if err := timeouts.ImplicitlyWait(r.scenario.Wait.Timeout); err != nil {
			return err
		}
		if err := timeouts.PollEvery(r.scenario.Wait.Poll); err != nil {
			return err
		}
	}

	if r.scenario.URL != "" {
		if err := r.driver.Get(ctx, r.scenario.URL); err != nil {
			return fmt.Errorf("open %s: %w", r.scenario.URL, err)
		}
	}

	log.Infof("Running scenario %q with %d step(s)", r.scenario.Name, len(r.scenario.Steps))
	for i, step := range r.scenario.Steps {
		if r.abort.Load() {
			log.Debugf("Get abort signal, stop scenario %q at step %d", r.scenario.Name, i+1)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.runStep(ctx, i, step); err != nil {
			return err
		}
	}
	log.Infof("Scenario %q completed", r.scenario.Name)
	return nil
}

func (r *Runner) runStep(ctx context.Context, index int, step ScenarioStep) error {
	var err error
	var results []reflect.Value
	for attempt := 0; attempt <= step.Retry; attempt++ {
		if attempt > 0 {
			log.Debugf("Retrying step %d (%s), attempt %d of %d", index+1, step.Action, attempt, step.Retry)
		}
		log.Debugf("Execute step %d: %s %v", index+1, step.Action, step.params())
		results, err = r.executeMethod(ctx, step.Action, step.params())
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		if step.Description != "" {
			return fmt.Errorf("step %d (%s: %s): %w", index+1, step.Action, step.Description, err)
		}
		return fmt.Errorf("step %d (%s): %w", index+1, step.Action, err)
	}

	if step.Save != "" {
		if len(results) == 0 {
			return fmt.Errorf("step %d (%s): nothing to save as %q", index+1, step.Action, step.Save)
		}
		value := results[0].Interface()
		r.SetVariable(step.Save, value, results[0].Type().String())
		log.Debugf("Saved %s = %v", step.Save, value)
	}
	return nil
}

// lookupMethod resolves an action name such as "find-all" to a Method method.
func lookupMethod(action string) (reflect.Method, bool) {
	name, ok := actionNames[action]
	if !ok {
		var b strings.Builder
		for _, part := range strings.FieldsFunc(action, func(r rune) bool { return r == '-' || r == '_' }) {
			b.WriteString(strings.ToUpper(part[:1]) + part[1:])
		}
		name = b.String()
	}
	return methodType.MethodByName(name)
}

// executeMethod calls the action with params converted to its parameter
// types. It returns the non-error results.
func (r *Runner) executeMethod(ctx context.Context, action string, params []string) ([]reflect.Value, error) {
	m, found := lookupMethod(action)
	if !found {
		return nil, fmt.Errorf("action '%s' not found", action)
	}

	methodFunc := m.Type
	args := make([]reflect.Value, 0, methodFunc.NumIn()-1)
	next := 0

	// skip the receiver
	for i := 1; i < methodFunc.NumIn(); i++ {
		paramType := methodFunc.In(i)
		if paramType == contextType {
			args = append(args, reflect.ValueOf(ctx))
			continue
		}
		if next >= len(params) {
			return nil, fmt.Errorf("parameter number not match, %s needs more than %d", m.Name, len(params))
		}
		value, err := r.argument(params[next], paramType)
		if err != nil {
			return nil, fmt.Errorf("parameter %d: %w", next+1, err)
		}
		args = append(args, value)
		next++
	}
	if next != len(params) {
		return nil, fmt.Errorf("parameter number not match, %s takes %d, got %d", m.Name, next, len(params))
	}

	results := reflect.ValueOf(r.method).MethodByName(m.Name).Call(args)
	return r.handleResults(results)
}

// argument resolves one parameter. "#name#" stands for a saved result;
// "#name#" inside a longer string is replaced by its text.
func (r *Runner) argument(input string, targetType reflect.Type) (reflect.Value, error) {
	input = strings.TrimSpace(input)
	if len(input) > 2 && input[0] == '#' && input[len(input)-1] == '#' && !strings.Contains(input[1:len(input)-1], "#") {
		name := input[1 : len(input)-1]
		result, ok := r.Variable(name)
		if !ok {
			return reflect.Value{}, fmt.Errorf("no saved result named %q", name)
		}
		if result.Value == nil {
			return reflect.Zero(targetType), nil
		}
		value := reflect.ValueOf(result.Value)
		if value.Type().AssignableTo(targetType) {
			return value, nil
		}
		return r.convertToType(fmt.Sprint(result.Value), targetType)
	}
	return r.convertToType(r.substitute(input), targetType)
}

// substitute replaces every #name# of a saved result inside s.
func (r *Runner) substitute(s string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, result := range r.results {
		s = strings.ReplaceAll(s, "#"+name+"#", fmt.Sprint(result.Value))
	}
	return s
}

// convertToType converts string input to the specified type
func (r *Runner) convertToType(input string, targetType reflect.Type) (reflect.Value, error) {
	switch targetType.Kind() {
	case reflect.String:
		return reflect.ValueOf(input).Convert(targetType), nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		val, err := strconv.ParseInt(input, 10, 64)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("cannot convert to integer: %v", err)
		}
		return reflect.ValueOf(val).Convert(targetType), nil

	case reflect.Float32, reflect.Float64:
		val, err := strconv.ParseFloat(input, 64)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("cannot convert to float: %v", err)
		}
		return reflect.ValueOf(val).Convert(targetType), nil

	case reflect.Bool:
		val, err := strconv.ParseBool(input)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("cannot convert to boolean: %v", err)
		}
		return reflect.ValueOf(val), nil

	case reflect.Interface:
		return reflect.ValueOf(input), nil

	default:
		return reflect.Value{}, fmt.Errorf("unsupported parameter type: %s", targetType.String())
	}
}

// handleResults splits off a trailing error result.
func (r *Runner) handleResults(results []reflect.Value) ([]reflect.Value, error) {
	if len(results) == 0 {
		log.Debugf("execute successfully, but no return value")
		return nil, nil
	}
	last := results[len(results)-1]
	if last.Type() == errorType {
		if !last.IsNil() {
			return nil, last.Interface().(error)
		}
		return results[:len(results)-1], nil
	}
	return results, nil
}
