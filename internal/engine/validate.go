package engine

import (
	"context"
	"fmt"

	"github.com/formlane/formlane/internal/expressions"
	"github.com/formlane/formlane/internal/store"
	"github.com/formlane/formlane/pkg/schema"
)

// validateExecutor evaluates assertion rules against resolved variables. A
// failing rule does not fail the node: the node executes and publishes a
// typed result, and edge conditions decide what to do with it.
type validateExecutor struct {
	values expressions.Engine
}

func (x *validateExecutor) Kind() schema.NodeKind {
	return schema.NodeKindValidate
}

func (x *validateExecutor) Execute(ctx context.Context, node *schema.Node, ec *Context) *Result {
	var cfg schema.ValidateConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return failed(node, err)
	}

	result := schema.ValidationResult{Success: true}
	env := ec.Env()

	for _, rule := range cfg.Rules {
		canonical := expressions.CanonicalKey(rule.Field, ec.AliasMap)
		value := ec.Resolve(rule.Field)
		if err := x.applyRule(ctx, rule, canonical, value, env, &result); err != nil {
			return failed(node, err)
		}
	}

	outputKey := cfg.OutputKey
	if outputKey == "" {
		outputKey = node.ID
	}
	return executed(map[string]any{outputKey: resultAsData(result)})
}

// resultAsData renders the typed result as plain data so edge conditions and
// scripts can traverse it like any other variable.
func resultAsData(result schema.ValidationResult) map[string]any {
	out := map[string]any{"success": result.Success}
	if len(result.Errors) > 0 {
		errs := make([]any, len(result.Errors))
		for i, e := range result.Errors {
			errs[i] = e
		}
		out["errors"] = errs
	}
	if len(result.FieldErrors) > 0 {
		fields := make(map[string]any, len(result.FieldErrors))
		for k, msgs := range result.FieldErrors {
			vals := make([]any, len(msgs))
			for i, m := range msgs {
				vals[i] = m
			}
			fields[k] = vals
		}
		out["field_errors"] = fields
	}
	return out
}

func (x *validateExecutor) applyRule(ctx context.Context, rule schema.AssertRule, fieldKey string, value any, env map[string]any, result *schema.ValidationResult) *schema.EngineError {
	if rule.Rule == "for_each" {
		return x.applyForEach(ctx, rule, fieldKey, value, env, result)
	}

	ok, err := x.check(ctx, rule, value, env)
	if err != nil {
		return err
	}
	if !ok {
		recordFailure(result, fieldKey, rule)
	}
	return nil
}

// applyForEach runs the nested rules once per element of a list variable.
// A non-list value fails the rule itself rather than erroring the node.
func (x *validateExecutor) applyForEach(ctx context.Context, rule schema.AssertRule, fieldKey string, value any, env map[string]any, result *schema.ValidationResult) *schema.EngineError {
	list, ok := value.([]any)
	if !ok {
		recordFailure(result, fieldKey, rule)
		return nil
	}
	for i, elem := range list {
		elemMap, _ := elem.(map[string]any)
		for _, nested := range rule.ForEach {
			elemKey := fmt.Sprintf("%s[%d].%s", fieldKey, i, nested.Field)
			var elemValue any
			if elemMap != nil {
				elemValue = elemMap[nested.Field]
			}
			passed, err := x.check(ctx, nested, elemValue, env)
			if err != nil {
				return err
			}
			if !passed {
				recordFailure(result, elemKey, nested)
			}
		}
	}
	return nil
}

// check evaluates one rule against a resolved value. The rule's operand is an
// expression resolved against current variables, so rules can compare fields
// to each other, not just to literals.
func (x *validateExecutor) check(ctx context.Context, rule schema.AssertRule, value any, env map[string]any) (bool, *schema.EngineError) {
	if rule.Rule == "non_empty" {
		return !isEmpty(value), nil
	}

	expected, err := x.values.Evaluate(ctx, rule.Value, env)
	if err != nil {
		if engErr, ok := err.(*schema.EngineError); ok {
			return false, engErr
		}
		return false, schema.NewError(schema.ErrCodeExpression, err.Error()).WithCause(err)
	}

	switch rule.Rule {
	case "equals":
		return looseEqual(value, expected), nil
	case "not_equals":
		return !looseEqual(value, expected), nil
	case "gt", "gte", "lt", "lte":
		return compareOrdered(rule.Rule, value, expected), nil
	default:
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown validation rule %q", rule.Rule)
	}
}

func recordFailure(result *schema.ValidationResult, fieldKey string, rule schema.AssertRule) {
	result.Success = false
	msg := rule.Message
	if msg == "" {
		msg = fmt.Sprintf("field %q failed rule %q", fieldKey, rule.Rule)
	}
	result.Errors = append(result.Errors, msg)
	if result.FieldErrors == nil {
		result.FieldErrors = make(map[string][]string)
	}
	result.FieldErrors[fieldKey] = append(result.FieldErrors[fieldKey], msg)
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}

// looseEqual matches the store's filter semantics so a rule and a query
// filter agree on what "equals" means.
func looseEqual(a, b any) bool {
	return store.MatchFilters(map[string]any{"v": a}, []store.RowFilter{{Column: "v", Op: "eq", Value: b}})
}

func compareOrdered(op string, a, b any) bool {
	return store.MatchFilters(map[string]any{"v": a}, []store.RowFilter{{Column: "v", Op: op, Value: b}})
}
