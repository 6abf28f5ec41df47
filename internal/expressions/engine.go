package expressions

import "context"

// Engine evaluates expressions against a variable map.
// Three implementations: Expr (values), CEL (conditions), GoJQ (scripts).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
