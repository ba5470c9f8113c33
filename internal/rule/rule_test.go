package rule

import (
	"errors"
	"testing"
	"time"

	"github.com/tradeforge/tradeforge/internal/core"
	"github.com/tradeforge/tradeforge/internal/indicator"
)

func mustParse(t *testing.T, src string) *Node {
	t.Helper()
	n, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return n
}

func testContext(rsi float64, valid bool) Context {
	warmup := 0
	if !valid {
		warmup = 1 // index 0 becomes warmup
	}
	return Context{
		Bar: core.Bar{
			Symbol: "EURUSD", Open: 1.0, High: 1.1, Low: 0.9, Close: 1.05,
			Volume: 500, Time: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		Index: 0,
		Indicators: map[string]indicator.Series{
			"rsi(period=14)": {Values: []float64{rsi}, Warmup: warmup},
		},
	}
}

const rsiBelow30 = `{
	"type": "comparison",
	"op": "<",
	"left": {"type": "indicator", "name": "rsi", "params": {"period": 14}},
	"right": {"type": "constant", "value": 30}
}`

func TestParse_Valid(t *testing.T) {
	n := mustParse(t, rsiBelow30)
	if n.Type != TypeComparison || n.Op != "<" {
		t.Errorf("parsed node = %+v", n)
	}

	specs := Specs(n)
	if len(specs) != 1 || specs[0].Key() != "rsi(period=14)" {
		t.Errorf("Specs() = %v", specs)
	}
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown operator", `{"type":"comparison","op":"~","left":{"type":"constant","value":1},"right":{"type":"constant","value":2}}`},
		{"missing operand", `{"type":"comparison","op":"<","left":{"type":"constant","value":1}}`},
		{"unknown node type", `{"type":"magic"}`},
		{"unknown indicator", `{"type":"comparison","op":"<","left":{"type":"indicator","name":"nope"},"right":{"type":"constant","value":1}}`},
		{"unknown price field", `{"type":"comparison","op":"<","left":{"type":"price","field":"vwap"},"right":{"type":"constant","value":1}}`},
		{"not with two children", `{"type":"logical","op":"not","children":[{"type":"comparison","op":"<","left":{"type":"constant","value":1},"right":{"type":"constant","value":2}},{"type":"comparison","op":"<","left":{"type":"constant","value":1},"right":{"type":"constant","value":2}}]}`},
		{"empty and", `{"type":"logical","op":"and","children":[]}`},
		{"unknown action", `{"type":"action","action":"yolo"}`},
		{"action inside condition", `{"type":"logical","op":"and","children":[{"type":"action","action":"buy"}]}`},
		{"not json", `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src))
			if err == nil {
				t.Fatal("expected parse error")
			}
			if !errors.Is(err, core.ErrParse) {
				t.Errorf("error = %v, want PARSE_ERROR", err)
			}
		})
	}
}

func TestEval_Comparison(t *testing.T) {
	n := mustParse(t, rsiBelow30)

	if !Eval(n, testContext(25, true)) {
		t.Error("RSI 25 < 30 should be true")
	}
	if Eval(n, testContext(45, true)) {
		t.Error("RSI 45 < 30 should be false")
	}
}

func TestEval_WarmupIsFalse(t *testing.T) {
	n := mustParse(t, rsiBelow30)

	// Value present but inside warmup: comparison is false, never an error.
	if Eval(n, testContext(25, false)) {
		t.Error("comparison over a warmup bar must evaluate to false")
	}

	// Series missing entirely.
	ctx := testContext(25, true)
	ctx.Indicators = nil
	if Eval(n, ctx) {
		t.Error("comparison with a missing series must evaluate to false")
	}
}

func TestEval_Logical(t *testing.T) {
	src := `{
		"type": "logical", "op": "and",
		"children": [
			{"type":"comparison","op":">","left":{"type":"price","field":"close"},"right":{"type":"constant","value":1}},
			{"type":"logical","op":"not","children":[
				{"type":"comparison","op":">","left":{"type":"price","field":"volume"},"right":{"type":"constant","value":1000}}
			]}
		]
	}`
	n := mustParse(t, src)

	ctx := testContext(50, true) // close=1.05, volume=500
	if !Eval(n, ctx) {
		t.Error("close>1 AND NOT(volume>1000) should hold")
	}

	ctx.Bar.Volume = 2000
	if Eval(n, ctx) {
		t.Error("should fail once volume exceeds 1000")
	}
}

func TestEval_OrShortCircuitsOnWarmup(t *testing.T) {
	src := `{
		"type": "logical", "op": "or",
		"children": [
			{"type":"comparison","op":"<","left":{"type":"indicator","name":"rsi","params":{"period":14}},"right":{"type":"constant","value":30}},
			{"type":"comparison","op":">","left":{"type":"price","field":"close"},"right":{"type":"constant","value":1}}
		]
	}`
	n := mustParse(t, src)

	// First branch is on a warmup bar (false), second still carries the OR.
	if !Eval(n, testContext(25, false)) {
		t.Error("OR should survive one unresolvable branch")
	}
}

func TestDecide(t *testing.T) {
	cond := mustParse(t, rsiBelow30)

	if got := Decide(cond, testContext(25, true), core.DecisionBuy); got != core.DecisionBuy {
		t.Errorf("Decide() = %v, want buy", got)
	}
	if got := Decide(cond, testContext(45, true), core.DecisionBuy); got != core.DecisionHold {
		t.Errorf("Decide() = %v, want hold", got)
	}

	action := mustParse(t, `{"type":"action","action":"sell","when":`+rsiBelow30+`}`)
	if got := Decide(action, testContext(25, true), core.DecisionBuy); got != core.DecisionSell {
		t.Errorf("guarded action = %v, want sell", got)
	}
	if got := Decide(action, testContext(45, true), core.DecisionBuy); got != core.DecisionHold {
		t.Errorf("guarded action = %v, want hold", got)
	}

	unguarded := mustParse(t, `{"type":"action","action":"buy"}`)
	if got := Decide(unguarded, testContext(45, true), core.DecisionSell); got != core.DecisionBuy {
		t.Errorf("unguarded action = %v, want buy", got)
	}
}

func TestClone_Independent(t *testing.T) {
	n := mustParse(t, rsiBelow30)
	cp := Clone(n)

	cp.Left.Params["period"] = 7
	if n.Left.Params["period"] != 14 {
		t.Error("mutating the clone must not touch the original")
	}
}

func TestClone_KeepsParamName(t *testing.T) {
	n := mustParse(t, `{
		"type": "comparison",
		"op": "<",
		"left": {"type": "indicator", "name": "rsi", "params": {"period": 14}},
		"right": {"type": "constant", "value": 30, "param": "level"}
	}`)

	cp := Clone(n)
	if cp.Right.Param != "level" {
		t.Errorf("clone dropped the constant's param name: %+v", cp.Right)
	}
}
