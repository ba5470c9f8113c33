// Package rule defines the typed rule tree shared by the backtest simulator
// and the live signal engine, and a pure evaluator over it. There is no
// dynamic code execution: a tree is data, validated once at parse time.
package rule

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/tradeforge/tradeforge/internal/core"
	"github.com/tradeforge/tradeforge/internal/indicator"
)

// Node types.
const (
	TypeComparison = "comparison"
	TypeLogical    = "logical"
	TypeAction     = "action"
)

// Logical operators.
const (
	OpAnd = "and"
	OpOr  = "or"
	OpNot = "not"
)

// Operand types.
const (
	OperandIndicator = "indicator"
	OperandPrice     = "price"
	OperandConstant  = "constant"
)

var comparisonOps = map[string]bool{
	"<": true, "<=": true, ">": true, ">=": true, "==": true, "!=": true,
}

var priceFields = map[string]bool{
	"open": true, "high": true, "low": true, "close": true, "volume": true,
}

// Operand is one side of a comparison. Exactly one variant applies,
// selected by Type.
type Operand struct {
	Type string `json:"type"`

	// Indicator reference (Type == "indicator").
	Name   string             `json:"name,omitempty"`
	Params map[string]float64 `json:"params,omitempty"`

	// Price field (Type == "price").
	Field string `json:"field,omitempty"`

	// Constant (Type == "constant"). Param optionally names the constant
	// so a parameter search can rebind Value.
	Value float64 `json:"value,omitempty"`
	Param string `json:"param,omitempty"`
}

// Spec returns the indicator spec for an indicator operand.
func (o *Operand) Spec() indicator.Spec {
	return indicator.Spec{Name: o.Name, Params: o.Params}
}

// Node is one node of a rule tree, a tagged variant selected by Type:
// comparison(left op right), logical(and|or|not over children), or
// action(buy|sell|hold, optionally guarded by a condition).
type Node struct {
	Type string `json:"type"`

	// Comparison and logical operator.
	Op string `json:"op,omitempty"`

	// Comparison operands.
	Left  *Operand `json:"left,omitempty"`
	Right *Operand `json:"right,omitempty"`

	// Logical children.
	Children []*Node `json:"children,omitempty"`

	// Action kind and optional guard condition.
	Action string `json:"action,omitempty"`
	When   *Node  `json:"when,omitempty"`
}

// Parse decodes and validates a rule tree. Malformed trees are rejected
// here, before any evaluation.
func Parse(data []byte) (*Node, error) {
	var n Node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, core.WrapError(core.ErrParse, err)
	}
	if err := Validate(&n); err != nil {
		return nil, err
	}
	return &n, nil
}

// Validate checks the whole tree. The root may be a condition or an action;
// action nodes anywhere else are rejected.
func Validate(n *Node) error {
	if n == nil {
		return core.WrapError(core.ErrParse, fmt.Errorf("empty rule tree"))
	}
	if n.Type == TypeAction {
		if err := validateAction(n, "$"); err != nil {
			return err
		}
		return nil
	}
	return validateCondition(n, "$")
}

func validateCondition(n *Node, path string) error {
	if n == nil {
		return parseErr(path, "missing node")
	}
	switch n.Type {
	case TypeComparison:
		if !comparisonOps[n.Op] {
			return parseErr(path, fmt.Sprintf("unknown comparison operator %q", n.Op))
		}
		if err := validateOperand(n.Left, path+".left"); err != nil {
			return err
		}
		return validateOperand(n.Right, path+".right")

	case TypeLogical:
		switch n.Op {
		case OpNot:
			if len(n.Children) != 1 {
				return parseErr(path, fmt.Sprintf("not takes exactly one child, got %d", len(n.Children)))
			}
		case OpAnd, OpOr:
			if len(n.Children) == 0 {
				return parseErr(path, n.Op+" needs at least one child")
			}
		default:
			return parseErr(path, fmt.Sprintf("unknown logical operator %q", n.Op))
		}
		for i, child := range n.Children {
			if err := validateCondition(child, fmt.Sprintf("%s.children[%d]", path, i)); err != nil {
				return err
			}
		}
		return nil

	case TypeAction:
		return parseErr(path, "action node not allowed inside a condition")

	default:
		return parseErr(path, fmt.Sprintf("unknown node type %q", n.Type))
	}
}

func validateAction(n *Node, path string) error {
	switch core.Decision(n.Action) {
	case core.DecisionBuy, core.DecisionSell, core.DecisionHold:
	default:
		return parseErr(path, fmt.Sprintf("unknown action %q", n.Action))
	}
	if n.When != nil {
		return validateCondition(n.When, path+".when")
	}
	return nil
}

func validateOperand(o *Operand, path string) error {
	if o == nil {
		return parseErr(path, "missing operand")
	}
	switch o.Type {
	case OperandIndicator:
		if !indicator.Known(o.Name) {
			return parseErr(path, fmt.Sprintf("unknown indicator %q", o.Name))
		}
		for name, v := range o.Params {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return parseErr(path, fmt.Sprintf("parameter %q is not a finite number", name))
			}
		}
		return nil
	case OperandPrice:
		if !priceFields[o.Field] {
			return parseErr(path, fmt.Sprintf("unknown price field %q", o.Field))
		}
		return nil
	case OperandConstant:
		if math.IsNaN(o.Value) || math.IsInf(o.Value, 0) {
			return parseErr(path, "constant is not a finite number")
		}
		return nil
	default:
		return parseErr(path, fmt.Sprintf("unknown operand type %q", o.Type))
	}
}

func parseErr(path, msg string) error {
	return core.WrapError(core.ErrParse, fmt.Errorf("%s: %s", path, msg))
}

// Specs collects the distinct indicator specs referenced by the tree.
func Specs(n *Node) []indicator.Spec {
	seen := make(map[string]bool)
	var specs []indicator.Spec
	collectSpecs(n, seen, &specs)
	return specs
}

func collectSpecs(n *Node, seen map[string]bool, specs *[]indicator.Spec) {
	if n == nil {
		return
	}
	for _, o := range []*Operand{n.Left, n.Right} {
		if o != nil && o.Type == OperandIndicator {
			spec := o.Spec()
			if key := spec.Key(); !seen[key] {
				seen[key] = true
				*specs = append(*specs, spec)
			}
		}
	}
	for _, child := range n.Children {
		collectSpecs(child, seen, specs)
	}
	collectSpecs(n.When, seen, specs)
}

// Clone returns a deep copy of the tree.
func Clone(n *Node) *Node {
	if n == nil {
		return nil
	}
	out := &Node{Type: n.Type, Op: n.Op, Action: n.Action}
	out.Left = cloneOperand(n.Left)
	out.Right = cloneOperand(n.Right)
	out.When = Clone(n.When)
	if len(n.Children) > 0 {
		out.Children = make([]*Node, len(n.Children))
		for i, child := range n.Children {
			out.Children[i] = Clone(child)
		}
	}
	return out
}

func cloneOperand(o *Operand) *Operand {
	if o == nil {
		return nil
	}
	out := &Operand{Type: o.Type, Name: o.Name, Field: o.Field, Value: o.Value, Param: o.Param}
	if len(o.Params) > 0 {
		out.Params = make(map[string]float64, len(o.Params))
		for k, v := range o.Params {
			out.Params[k] = v
		}
	}
	return out
}
