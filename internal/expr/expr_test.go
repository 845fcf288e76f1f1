package expr

import (
	"testing"

	"github.com/shopspring/decimal"
)

func mustParse(t *testing.T, src string) Node {
	t.Helper()
	n, _, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse(%q): %v", src, err)
	}
	return n
}

func TestCompareOperators(t *testing.T) {
	n := mustParse(t, "price > 100")
	if !n.Eval(Env{Price: decimal.NewFromInt(101)}) {
		t.Fatal("expected true for price=101")
	}
	if n.Eval(Env{Price: decimal.NewFromInt(100)}) {
		t.Fatal("expected false for price=100")
	}
}

func TestAndOrPrecedence(t *testing.T) {
	// OR binds looser than AND: "a AND b OR c" == "(a AND b) OR c"
	n := mustParse(t, "price > 100 AND price < 50 OR time >= 15:20")
	// price 40 makes "price > 100" false: the left-grouped reading is true via
	// the OR branch, while "a AND (b OR c)" would be false.
	env := Env{Price: decimal.NewFromInt(40), Time: 15*60 + 20}
	if !n.Eval(env) {
		t.Fatal("expected true via the OR branch")
	}
}

func TestParensGroupAcrossAndOr(t *testing.T) {
	n := mustParse(t, "(price > 100 OR price < 10) AND time >= 9:00")
	env := Env{Price: decimal.NewFromInt(5), Time: 9 * 60}
	if !n.Eval(env) {
		t.Fatal("expected true")
	}
	env.Time = 8 * 60
	if n.Eval(env) {
		t.Fatal("expected false once time condition fails")
	}
}

func TestTimeLiteralBoundary(t *testing.T) {
	n := mustParse(t, "time >= 15:20")
	if !n.Eval(Env{Time: 15*60 + 20}) {
		t.Fatal("expected true at exactly 15:20")
	}
	if n.Eval(Env{Time: 15*60 + 19}) {
		t.Fatal("expected false at 15:19")
	}
}

func TestDomainMismatchRejected(t *testing.T) {
	if _, _, err := Parse("price > 15:20"); err == nil {
		t.Fatal("expected a parse error mixing price with a time literal")
	}
	if _, _, err := Parse("time > 100"); err == nil {
		t.Fatal("expected a parse error mixing time with a bare number")
	}
}

func TestUnknownIdentifierRejected(t *testing.T) {
	if _, _, err := Parse("volume > 100"); err == nil {
		t.Fatal("expected an unknown-identifier parse error")
	}
}

func TestEqualsOnPriceWarns(t *testing.T) {
	_, warnings, err := Parse("price == 100")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(warnings) == 0 {
		t.Fatal("expected a warning for == on price")
	}
}

func TestRoundTripFormat(t *testing.T) {
	srcs := []string{
		"price > 100",
		"price > 100 AND price < 200",
		"(price > 100 OR time >= 9:30) AND price <= 500",
	}
	envs := []Env{
		{Price: decimal.NewFromInt(150), Time: 9 * 60},
		{Price: decimal.NewFromInt(600), Time: 10 * 60},
		{Price: decimal.NewFromInt(50), Time: 9*60 + 31},
	}
	for _, src := range srcs {
		a := mustParse(t, src)
		b := mustParse(t, Format(a))
		for _, env := range envs {
			if a.Eval(env) != b.Eval(env) {
				t.Fatalf("round-trip mismatch for %q under %+v", src, env)
			}
		}
	}
}

func TestMalformedSyntaxRejected(t *testing.T) {
	cases := []string{
		"price >",
		"price >> 100",
		"price > 100 AND",
		"((price > 100)",
		"price > 100 price < 50",
	}
	for _, c := range cases {
		if _, _, err := Parse(c); err == nil {
			t.Fatalf("expected parse error for %q", c)
		}
	}
}
