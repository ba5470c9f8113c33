package rule

import (
	"github.com/tradeforge/tradeforge/internal/core"
	"github.com/tradeforge/tradeforge/internal/indicator"
)

// Context carries everything a rule tree may reference at one bar. The
// evaluator reads from it and never writes, so the same Context drives both
// backtest and live evaluation.
type Context struct {
	Bar        core.Bar
	Index      int
	Indicators map[string]indicator.Series
	Position   *core.Position
}

// Eval evaluates a condition node against the context. Operands that cannot
// be resolved to a number (warmup bars, absent series) make the enclosing
// comparison false: warmup bars silently produce no signal.
func Eval(n *Node, ctx Context) bool {
	if n == nil {
		return false
	}
	switch n.Type {
	case TypeComparison:
		left, ok := resolveOperand(n.Left, ctx)
		if !ok {
			return false
		}
		right, ok := resolveOperand(n.Right, ctx)
		if !ok {
			return false
		}
		return compare(left, n.Op, right)

	case TypeLogical:
		switch n.Op {
		case OpAnd:
			for _, child := range n.Children {
				if !Eval(child, ctx) {
					return false
				}
			}
			return true
		case OpOr:
			for _, child := range n.Children {
				if Eval(child, ctx) {
					return true
				}
			}
			return false
		case OpNot:
			return !Eval(n.Children[0], ctx)
		}
		return false

	default:
		return false
	}
}

// Decide evaluates a rule tree to a trading decision. A condition root yields
// onTrue when it holds and hold otherwise. An action root yields its action
// kind when its guard holds (an unguarded action always fires).
func Decide(n *Node, ctx Context, onTrue core.Decision) core.Decision {
	if n == nil {
		return core.DecisionHold
	}
	if n.Type == TypeAction {
		if n.When == nil || Eval(n.When, ctx) {
			return core.Decision(n.Action)
		}
		return core.DecisionHold
	}
	if Eval(n, ctx) {
		return onTrue
	}
	return core.DecisionHold
}

func resolveOperand(o *Operand, ctx Context) (float64, bool) {
	if o == nil {
		return 0, false
	}
	switch o.Type {
	case OperandConstant:
		return o.Value, true
	case OperandPrice:
		switch o.Field {
		case "open":
			return ctx.Bar.Open, true
		case "high":
			return ctx.Bar.High, true
		case "low":
			return ctx.Bar.Low, true
		case "close":
			return ctx.Bar.Close, true
		case "volume":
			return ctx.Bar.Volume, true
		}
		return 0, false
	case OperandIndicator:
		series, ok := ctx.Indicators[o.Spec().Key()]
		if !ok {
			return 0, false
		}
		return series.At(ctx.Index)
	}
	return 0, false
}

func compare(left float64, op string, right float64) bool {
	switch op {
	case "<":
		return left < right
	case "<=":
		return left <= right
	case ">":
		return left > right
	case ">=":
		return left >= right
	case "==":
		return left == right
	case "!=":
		return left != right
	}
	return false
}
