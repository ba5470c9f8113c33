// Package strategy holds the machine-evaluable form of a trading strategy:
// validated rule trees plus the risk block that sizes and bounds positions.
package strategy

import (
	"fmt"
	"strings"

	"github.com/tradeforge/tradeforge/internal/core"
	"github.com/tradeforge/tradeforge/internal/indicator"
	"github.com/tradeforge/tradeforge/internal/rule"
)

// Processing status of a strategy definition.
const (
	StatusPending = "pending"
	StatusReady   = "ready"
	StatusFailed  = "failed"
)

// SizingMode selects how position volume is computed.
type SizingMode string

const (
	// SizingFixed uses the risk block's fixed volume.
	SizingFixed SizingMode = "fixed"
	// SizingRiskPct derives volume from a percentage of equity at risk.
	SizingRiskPct SizingMode = "risk_pct"
)

// RiskBlock bounds and sizes every position a strategy opens.
type RiskBlock struct {
	StopLossPct   float64    `json:"stop_loss_pct"`   // fraction of entry price, 0 disables
	TakeProfitPct float64    `json:"take_profit_pct"` // fraction of entry price, 0 disables
	Sizing        SizingMode `json:"sizing"`
	Volume        float64    `json:"volume"`        // fixed-mode volume
	RiskPct       float64    `json:"risk_pct"`      // risk_pct-mode percent of equity
	ContractSize  float64    `json:"contract_size"` // defaults to 1
}

// Definition is a fully converted strategy: rule trees plus risk block.
type Definition struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	RawText   string             `json:"raw_text,omitempty"`
	Entry     *rule.Node         `json:"entry"`
	Exit      *rule.Node         `json:"exit"`
	Risk      RiskBlock          `json:"risk"`
	Symbol    string             `json:"symbol,omitempty"`
	Timeframe string             `json:"timeframe,omitempty"`
	Params    map[string]float64 `json:"params,omitempty"` // last bound parameter set
	Status    string             `json:"status,omitempty"`
}

// Validate checks the rule trees and risk block. It is the gate that turns
// a pending definition ready; anything it rejects never reaches a simulator.
func (d *Definition) Validate() error {
	if d.Entry == nil {
		return core.WrapError(core.ErrParse, fmt.Errorf("strategy %q: missing entry rules", d.Name))
	}
	if err := rule.Validate(d.Entry); err != nil {
		return fmt.Errorf("entry rules: %w", err)
	}
	if d.Exit != nil {
		if err := rule.Validate(d.Exit); err != nil {
			return fmt.Errorf("exit rules: %w", err)
		}
	}

	r := d.Risk
	if r.StopLossPct < 0 || r.StopLossPct >= 1 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("stop_loss_pct must be in [0,1), got %g", r.StopLossPct))
	}
	if r.TakeProfitPct < 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("take_profit_pct cannot be negative, got %g", r.TakeProfitPct))
	}
	switch r.Sizing {
	case SizingFixed, "":
		if r.Volume <= 0 {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("fixed sizing needs volume > 0, got %g", r.Volume))
		}
	case SizingRiskPct:
		if r.RiskPct <= 0 || r.RiskPct > 100 {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("risk_pct must be in (0,100], got %g", r.RiskPct))
		}
		if r.StopLossPct == 0 {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("risk_pct sizing needs a stop loss"))
		}
	default:
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("unknown sizing mode %q", r.Sizing))
	}
	return nil
}

// ContractSize returns the risk block's contract size, defaulting to 1.
func (r RiskBlock) ContractSizeOrDefault() float64 {
	if r.ContractSize <= 0 {
		return 1
	}
	return r.ContractSize
}

// IndicatorSpecs returns the distinct indicators referenced by both trees.
func (d *Definition) IndicatorSpecs() []indicator.Spec {
	seen := make(map[string]bool)
	var specs []indicator.Spec
	for _, s := range rule.Specs(d.Entry) {
		if !seen[s.Key()] {
			seen[s.Key()] = true
			specs = append(specs, s)
		}
	}
	for _, s := range rule.Specs(d.Exit) {
		if !seen[s.Key()] {
			seen[s.Key()] = true
			specs = append(specs, s)
		}
	}
	return specs
}

// ApplyParams returns a copy of the definition with the named parameters
// bound. Recognized keys:
//
//	sl_pct, tp_pct, volume, risk_pct      - risk block fields
//	<indicator>.<param> (e.g. rsi.period) - every matching indicator ref
//	$<name>                               - named constants in the trees
//
// Unknown keys are ignored so a search space can be broader than any one
// strategy uses.
func ApplyParams(d *Definition, params map[string]float64) *Definition {
	out := *d
	out.Entry = rule.Clone(d.Entry)
	out.Exit = rule.Clone(d.Exit)
	out.Params = make(map[string]float64, len(params))
	for k, v := range params {
		out.Params[k] = v
	}

	for key, v := range params {
		switch key {
		case "sl_pct":
			out.Risk.StopLossPct = v
		case "tp_pct":
			out.Risk.TakeProfitPct = v
		case "volume":
			out.Risk.Volume = v
		case "risk_pct":
			out.Risk.RiskPct = v
		default:
			if name, ok := strings.CutPrefix(key, "$"); ok {
				bindConstant(out.Entry, name, v)
				bindConstant(out.Exit, name, v)
				continue
			}
			if ind, param, ok := strings.Cut(key, "."); ok {
				bindIndicatorParam(out.Entry, ind, param, v)
				bindIndicatorParam(out.Exit, ind, param, v)
			}
		}
	}
	return &out
}

func bindConstant(n *rule.Node, name string, v float64) {
	walk(n, func(node *rule.Node) {
		for _, o := range []*rule.Operand{node.Left, node.Right} {
			if o != nil && o.Type == rule.OperandConstant && o.Param == name {
				o.Value = v
			}
		}
	})
}

func bindIndicatorParam(n *rule.Node, ind, param string, v float64) {
	walk(n, func(node *rule.Node) {
		for _, o := range []*rule.Operand{node.Left, node.Right} {
			if o != nil && o.Type == rule.OperandIndicator && o.Name == ind {
				if o.Params == nil {
					o.Params = make(map[string]float64, 1)
				}
				o.Params[param] = v
			}
		}
	})
}

func walk(n *rule.Node, fn func(*rule.Node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, child := range n.Children {
		walk(child, fn)
	}
	walk(n.When, fn)
}
