// Package expr implements the predicate DSL used for strategy entry/exit
// conditions: a tiny, deterministic grammar over two variables (price, time)
// that cannot execute arbitrary code. See Parse and Node.Eval.
package expr

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Env is the variable environment a predicate is evaluated against.
type Env struct {
	Price decimal.Decimal
	Time  int // minutes since local midnight
}

// Node is a parsed predicate. Evaluation cannot fail once parsing has
// succeeded — Eval returns a plain bool.
type Node interface {
	Eval(env Env) bool
	format() string
}

// panicNode is a Node test double that panics on Eval. It exists so callers
// in other packages can inject a deterministic runtime failure into a
// strategy runner without reaching into this package's unexported AST
// nodes (Node.format is unexported, so no outside type can satisfy Node
// on its own).
type panicNode struct{ msg string }

func (n panicNode) Eval(Env) bool   { panic(n.msg) }
func (n panicNode) format() string  { return "<panic>" }

// NewPanickingNodeForTesting returns a Node whose Eval always panics with
// msg, for exercising runner error-isolation paths.
func NewPanickingNodeForTesting(msg string) Node { return panicNode{msg: msg} }

// Format renders n back to DSL source. parse(Format(n)) evaluates identically
// to n under every environment.
func Format(n Node) string { return n.format() }

// domain distinguishes the two atom families the grammar allows; comparing
// across domains (a time literal against price, a bare number against time)
// is rejected at parse time.
type domain int

const (
	domainPrice domain = iota
	domainTime
)

type atomKind int

const (
	atomVarPrice atomKind = iota
	atomVarTime
	atomNumber
	atomTimeLiteral
)

// atom is a leaf of a comparison: either one of the two variables, or a
// literal value compatible with exactly one of them.
type atom struct {
	kind atomKind
	num  decimal.Decimal // atomNumber
	min  int             // atomTimeLiteral / atomVarTime is read from Env
}

func (a atom) domain() domain {
	switch a.kind {
	case atomVarPrice, atomNumber:
		return domainPrice
	default:
		return domainTime
	}
}

func (a atom) priceValue(env Env) decimal.Decimal {
	if a.kind == atomVarPrice {
		return env.Price
	}
	return a.num
}

func (a atom) timeValue(env Env) int {
	if a.kind == atomVarTime {
		return env.Time
	}
	return a.min
}

func (a atom) format() string {
	switch a.kind {
	case atomVarPrice:
		return "price"
	case atomVarTime:
		return "time"
	case atomNumber:
		return a.num.String()
	default:
		return fmt.Sprintf("%02d:%02d", a.min/60, a.min%60)
	}
}

// CompareNode is a single comparison between two like-domain atoms.
type CompareNode struct {
	lhs, rhs atom
	op       string // "<", "<=", ">", ">=", "=="
}

func (n *CompareNode) Eval(env Env) bool {
	if n.lhs.domain() == domainPrice {
		l, r := n.lhs.priceValue(env), n.rhs.priceValue(env)
		switch n.op {
		case "<":
			return l.LessThan(r)
		case "<=":
			return l.LessThanOrEqual(r)
		case ">":
			return l.GreaterThan(r)
		case ">=":
			return l.GreaterThanOrEqual(r)
		default:
			return l.Equal(r)
		}
	}
	l, r := n.lhs.timeValue(env), n.rhs.timeValue(env)
	switch n.op {
	case "<":
		return l < r
	case "<=":
		return l <= r
	case ">":
		return l > r
	case ">=":
		return l >= r
	default:
		return l == r
	}
}

func (n *CompareNode) format() string {
	return n.lhs.format() + " " + n.op + " " + n.rhs.format()
}

// BinaryNode is a logical AND/OR of two sub-predicates, short-circuiting.
type BinaryNode struct {
	lhs, rhs Node
	op       string // "AND", "OR"
}

func (n *BinaryNode) Eval(env Env) bool {
	l := n.lhs.Eval(env)
	if n.op == "AND" {
		return l && n.rhs.Eval(env)
	}
	return l || n.rhs.Eval(env)
}

func (n *BinaryNode) format() string {
	return "(" + n.lhs.format() + " " + n.op + " " + n.rhs.format() + ")"
}

// PriceSeedHint walks a predicate looking for the first comparison against
// the price variable and returns its literal operand. The market feed uses
// this to seed an instrument's starting price from its strategies' own
// entry conditions when no explicit seed is configured.
func PriceSeedHint(n Node) (decimal.Decimal, bool) {
	switch t := n.(type) {
	case *CompareNode:
		if t.lhs.domain() != domainPrice {
			return decimal.Decimal{}, false
		}
		if t.lhs.kind == atomNumber {
			return t.lhs.num, true
		}
		if t.rhs.kind == atomNumber {
			return t.rhs.num, true
		}
		return decimal.Decimal{}, false
	case *BinaryNode:
		if v, ok := PriceSeedHint(t.lhs); ok {
			return v, true
		}
		return PriceSeedHint(t.rhs)
	default:
		return decimal.Decimal{}, false
	}
}
