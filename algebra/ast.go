package algebra

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// BinaryKind enumerates the binary operators.
type BinaryKind int

const (
	OpAdd BinaryKind = iota
	OpSub
	OpMul
	OpDiv
	OpPow
	OpEq
	OpNe
	OpGe
	OpLe
	OpGt
	OpLt
	OpAnd
	OpOr
)

var binarySymbols = [...]string{
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpPow: "^",
	OpEq: "==", OpNe: "!=", OpGe: ">=", OpLe: "<=", OpGt: ">", OpLt: "<",
	OpAnd: "&", OpOr: "|",
}

func (k BinaryKind) String() string {
	return binarySymbols[k]
}

// UnaryKind enumerates the prefix operators.
type UnaryKind int

const (
	UnaryPlus UnaryKind = iota
	UnaryMinus
	UnaryNot
	UnaryFill
)

var unarySymbols = [...]string{UnaryPlus: "+", UnaryMinus: "-", UnaryNot: "!", UnaryFill: "~"}

func (k UnaryKind) String() string {
	return unarySymbols[k]
}

// FuncKind enumerates the built-in functions.
type FuncKind int

const (
	FnSin FuncKind = iota
	FnCos
	FnTan
	FnLog
	FnExp
	FnAbs
	FnInt
	FnRound
	FnSign
	FnMin
	FnMax
	FnMean
	FnMedian
	FnStd
	FnSum
)

var funcNames = [...]string{
	FnSin: "sin", FnCos: "cos", FnTan: "tan", FnLog: "log", FnExp: "exp",
	FnAbs: "abs", FnInt: "int", FnRound: "round", FnSign: "sign",
	FnMin: "min", FnMax: "max", FnMean: "mean", FnMedian: "median",
	FnStd: "std", FnSum: "sum",
}

var functions = func() map[string]FuncKind {
	m := make(map[string]FuncKind, len(funcNames))
	for k, name := range funcNames {
		m[name] = FuncKind(k)
	}
	return m
}()

func (k FuncKind) String() string {
	return funcNames[k]
}

// Reduction reports whether the function collapses an array to a scalar.
func (k FuncKind) Reduction() bool {
	return k >= FnMin
}

type keyword struct {
	value  float64
	masked bool
}

var keywords = map[string]keyword{
	"E":     {value: math.E},
	"PI":    {value: math.Pi},
	"TRUE":  {value: 1},
	"FALSE": {value: 0},
	"NULL":  {masked: true},
	"INF":   {value: math.Inf(1)},
}

// Node is an element of a parsed formula.
type Node interface {
	Pos() int
	String() string
}

// Literal is a number or keyword constant. A masked literal is NULL.
type Literal struct {
	Value  float64
	Masked bool
	Text   string
	pos    int
}

// BandRef names a band of the evaluated stack.
type BandRef struct {
	Name string
	pos  int
}

type UnaryOp struct {
	Op      UnaryKind
	Operand Node
	pos     int
}

type BinaryOp struct {
	Op          BinaryKind
	Left, Right Node
	pos         int
}

type FunctionCall struct {
	Func FuncKind
	Args []Node
	pos  int
}

func (n *Literal) Pos() int      { return n.pos }
func (n *BandRef) Pos() int      { return n.pos }
func (n *UnaryOp) Pos() int      { return n.pos }
func (n *BinaryOp) Pos() int     { return n.pos }
func (n *FunctionCall) Pos() int { return n.pos }

func (n *Literal) String() string {
	if n.Text != "" {
		return n.Text
	}
	return strconv.FormatFloat(n.Value, 'g', -1, 64)
}

func (n *BandRef) String() string { return n.Name }

func (n *UnaryOp) String() string {
	return fmt.Sprintf("(%s%s)", n.Op, n.Operand)
}

func (n *BinaryOp) String() string {
	return fmt.Sprintf("(%s %s %s)", n.Left, n.Op, n.Right)
}

func (n *FunctionCall) String() string {
	args := make([]string, len(n.Args))
	for i, a := range n.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", n.Func, strings.Join(args, ", "))
}

// walk visits n and its descendants depth first.
func walk(n Node, visit func(Node)) {
	visit(n)
	switch t := n.(type) {
	case *UnaryOp:
		walk(t.Operand, visit)
	case *BinaryOp:
		walk(t.Left, visit)
		walk(t.Right, visit)
	case *FunctionCall:
		for _, a := range t.Args {
			walk(a, visit)
		}
	}
}
