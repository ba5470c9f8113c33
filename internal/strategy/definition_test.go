package strategy

import (
	"errors"
	"testing"

	"github.com/tradeforge/tradeforge/internal/core"
	"github.com/tradeforge/tradeforge/internal/rule"
)

func testDefinition(t *testing.T) *Definition {
	t.Helper()
	entry, err := rule.Parse([]byte(`{
		"type":"comparison","op":"<",
		"left":{"type":"indicator","name":"rsi","params":{"period":14}},
		"right":{"type":"constant","value":30,"param":"oversold"}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	exit, err := rule.Parse([]byte(`{
		"type":"comparison","op":">",
		"left":{"type":"indicator","name":"rsi","params":{"period":14}},
		"right":{"type":"constant","value":70}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	return &Definition{
		ID:     "strat-1",
		Name:   "rsi_reversion",
		Entry:  entry,
		Exit:   exit,
		Symbol: "EURUSD",
		Risk: RiskBlock{
			StopLossPct:   0.02,
			TakeProfitPct: 0.04,
			Sizing:        SizingFixed,
			Volume:        1,
		},
	}
}

func TestDefinition_Validate(t *testing.T) {
	def := testDefinition(t)
	if err := def.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestDefinition_Validate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Definition)
	}{
		{"missing entry", func(d *Definition) { d.Entry = nil }},
		{"stop loss above 1", func(d *Definition) { d.Risk.StopLossPct = 1.5 }},
		{"fixed sizing without volume", func(d *Definition) { d.Risk.Volume = 0 }},
		{"risk sizing without stop", func(d *Definition) {
			d.Risk.Sizing = SizingRiskPct
			d.Risk.RiskPct = 2
			d.Risk.StopLossPct = 0
		}},
		{"unknown sizing mode", func(d *Definition) { d.Risk.Sizing = "martingale" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := testDefinition(t)
			tt.mutate(def)
			if err := def.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestDefinition_Validate_BadTree(t *testing.T) {
	def := testDefinition(t)
	def.Entry = &rule.Node{Type: "comparison", Op: "~"}
	err := def.Validate()
	if !errors.Is(err, core.ErrParse) {
		t.Errorf("error = %v, want PARSE_ERROR", err)
	}
}

func TestDefinition_IndicatorSpecs(t *testing.T) {
	def := testDefinition(t)
	specs := def.IndicatorSpecs()
	// Entry and exit both reference rsi(period=14); deduplicated.
	if len(specs) != 1 {
		t.Fatalf("IndicatorSpecs() = %v, want one spec", specs)
	}
	if specs[0].Key() != "rsi(period=14)" {
		t.Errorf("spec key = %q", specs[0].Key())
	}
}

func TestApplyParams(t *testing.T) {
	def := testDefinition(t)
	bound := ApplyParams(def, map[string]float64{
		"rsi.period": 7,
		"$oversold":  25,
		"sl_pct":     0.03,
		"unknown":    99, // ignored
	})

	// Original untouched.
	if def.Entry.Left.Params["period"] != 14 || def.Risk.StopLossPct != 0.02 {
		t.Fatal("ApplyParams must not mutate the original definition")
	}
	if def.Entry.Right.Value != 30 {
		t.Fatal("original constant changed")
	}

	if bound.Entry.Left.Params["period"] != 7 {
		t.Errorf("entry rsi period = %v, want 7", bound.Entry.Left.Params["period"])
	}
	if bound.Exit.Left.Params["period"] != 7 {
		t.Errorf("exit rsi period = %v, want 7", bound.Exit.Left.Params["period"])
	}
	if bound.Entry.Right.Value != 25 {
		t.Errorf("named constant = %v, want 25", bound.Entry.Right.Value)
	}
	if bound.Risk.StopLossPct != 0.03 {
		t.Errorf("sl_pct = %v, want 0.03", bound.Risk.StopLossPct)
	}
	if bound.Params["rsi.period"] != 7 {
		t.Error("bound parameter set should be recorded")
	}
}

func TestRiskBlock_ContractSizeOrDefault(t *testing.T) {
	if (RiskBlock{}).ContractSizeOrDefault() != 1 {
		t.Error("default contract size should be 1")
	}
	if (RiskBlock{ContractSize: 100000}).ContractSizeOrDefault() != 100000 {
		t.Error("explicit contract size should win")
	}
}
