package algebra

import (
	"github.com/nci/pixels/utils"
)

// Operator groups from loosest to tightest binding. Prefix operators bind
// tighter than any binary operator.
var (
	addOps  = map[string]BinaryKind{"+": OpAdd, "-": OpSub}
	multOps = map[string]BinaryKind{
		"|": OpOr, "&": OpAnd, "==": OpEq, "!=": OpNe, ">=": OpGe, "<=": OpLe,
		">": OpGt, "<": OpLt, "*": OpMul, "/": OpDiv,
	}
	unaryOps = map[string]UnaryKind{"+": UnaryPlus, "-": UnaryMinus, "!": UnaryNot, "~": UnaryFill}
)

// Formula is a parsed raster algebra expression. It holds no numeric state
// and can be evaluated against any number of band stacks.
type Formula struct {
	Text string
	Root Node
	// FillValue replaces masked entries for the "~" operator.
	FillValue float64
}

type parser struct {
	toks []token
	i    int
}

// Parse builds the syntax tree of expression.
//
//	expr   := term (("+" | "-") term)*
//	term   := power (("|" | "&" | "==" | "!=" | ">=" | "<=" | ">" | "<" | "*" | "/") power)*
//	power  := unary ("^" power)?
//	unary  := ("+" | "-" | "!" | "~") unary | atom
//	atom   := number | keyword | band | function "(" expr ("," expr)* ")" | "(" expr ")"
func Parse(expression string) (*Formula, error) {
	toks, err := tokenize(expression)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	if p.peek().kind == tokEOF {
		return nil, syntaxError(0, "empty expression")
	}
	root, err := p.expr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, syntaxError(t.pos, "unexpected token '%s'", t.text)
	}
	return &Formula{Text: expression, Root: root, FillValue: utils.NoDataValue}, nil
}

// Validate only checks that expression parses.
func Validate(expression string) error {
	_, err := Parse(expression)
	return err
}

func (p *parser) peek() token {
	return p.toks[p.i]
}

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) expr() (Node, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		op, ok := addOps[t.text]
		if t.kind != tokOp || !ok {
			return left, nil
		}
		p.next()
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{Op: op, Left: left, Right: right, pos: t.pos}
	}
}

func (p *parser) term() (Node, error) {
	left, err := p.power()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		op, ok := multOps[t.text]
		if t.kind != tokOp || !ok {
			return left, nil
		}
		p.next()
		right, err := p.power()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{Op: op, Left: left, Right: right, pos: t.pos}
	}
}

func (p *parser) power() (Node, error) {
	base, err := p.unary()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	if t.kind != tokOp || t.text != "^" {
		return base, nil
	}
	p.next()
	exp, err := p.power()
	if err != nil {
		return nil, err
	}
	return &BinaryOp{Op: OpPow, Left: base, Right: exp, pos: t.pos}, nil
}

func (p *parser) unary() (Node, error) {
	t := p.peek()
	if t.kind == tokOp {
		op, ok := unaryOps[t.text]
		if !ok {
			return nil, syntaxError(t.pos, "unexpected operator '%s'", t.text)
		}
		p.next()
		operand, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &UnaryOp{Op: op, Operand: operand, pos: t.pos}, nil
	}
	return p.atom()
}

func (p *parser) atom() (Node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return &Literal{Value: t.num, Text: t.text, pos: t.pos}, nil
	case tokKeyword:
		kw := keywords[t.text]
		return &Literal{Value: kw.value, Masked: kw.masked, Text: t.text, pos: t.pos}, nil
	case tokBand:
		return &BandRef{Name: t.text, pos: t.pos}, nil
	case tokFunc:
		return p.call(t)
	case tokLParen:
		n, err := p.expr()
		if err != nil {
			return nil, err
		}
		if c := p.next(); c.kind != tokRParen {
			return nil, syntaxError(c.pos, "expected ')'")
		}
		return n, nil
	case tokEOF:
		return nil, syntaxError(t.pos, "unexpected end of expression")
	default:
		return nil, syntaxError(t.pos, "unexpected token '%s'", t.text)
	}
}

func (p *parser) call(fn token) (Node, error) {
	if t := p.next(); t.kind != tokLParen {
		return nil, syntaxError(t.pos, "expected '(' after %s", fn.text)
	}
	var args []Node
	for {
		arg, err := p.expr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		t := p.next()
		if t.kind == tokRParen {
			break
		}
		if t.kind != tokComma {
			return nil, syntaxError(t.pos, "expected ',' or ')' in call to %s", fn.text)
		}
	}
	if len(args) != 1 {
		return nil, syntaxError(fn.pos, "%s takes exactly one argument, got %d", fn.text, len(args))
	}
	return &FunctionCall{Func: fn.fn, Args: args, pos: fn.pos}, nil
}

// Bands lists the distinct band names referenced by the formula in order
// of first appearance.
func (f *Formula) Bands() []string {
	var names []string
	seen := map[string]bool{}
	walk(f.Root, func(n Node) {
		if b, ok := n.(*BandRef); ok && !seen[b.Name] {
			seen[b.Name] = true
			names = append(names, b.Name)
		}
	})
	return names
}

func (f *Formula) String() string {
	return f.Root.String()
}
