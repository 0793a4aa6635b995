package algebra

import (
	"strconv"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokKeyword
	tokBand
	tokFunc
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
	num  float64
	fn   FuncKind
}

// Two character operators come first so that "<=" is never read as "<"
// followed by a stray "=".
var operators = []string{"==", "!=", ">=", "<=", "|", "&", ">", "<", "*", "/", "+", "-", "^", "!", "~"}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// operandExpected is true when the previous token cannot end an operand, in
// which case a sign is part of the following numeric literal.
func operandExpected(toks []token) bool {
	if len(toks) == 0 {
		return true
	}
	switch toks[len(toks)-1].kind {
	case tokOp, tokLParen, tokComma:
		return true
	}
	return false
}

// scanNumber matches [+-]?\d+(\.\d*)?([Ee][+-]?\d+)? at i and returns the
// end offset, or i when there is no match.
func scanNumber(s string, i int) int {
	j := i
	if j < len(s) && (s[j] == '+' || s[j] == '-') {
		j++
	}
	start := j
	for j < len(s) && isDigit(s[j]) {
		j++
	}
	if j == start {
		return i
	}
	if j < len(s) && s[j] == '.' {
		j++
		for j < len(s) && isDigit(s[j]) {
			j++
		}
	}
	if j < len(s) && (s[j] == 'e' || s[j] == 'E') {
		k := j + 1
		if k < len(s) && (s[k] == '+' || s[k] == '-') {
			k++
		}
		digits := k
		for k < len(s) && isDigit(s[k]) {
			k++
		}
		if k > digits {
			j = k
		}
	}
	return j
}

func scanIdent(s string, i int) int {
	j := i + 1
	for j < len(s) && (isLetter(s[j]) || isDigit(s[j]) || s[j] == '_') {
		j++
	}
	if j+1 < len(s) && s[j] == ':' && isDigit(s[j+1]) {
		j++
		for j < len(s) && isDigit(s[j]) {
			j++
		}
	}
	return j
}

func nextNonSpace(s string, i int) byte {
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	if i < len(s) {
		return s[i]
	}
	return 0
}

func tokenize(s string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case isSpace(c):
			i++
			continue
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
			continue
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
			continue
		case c == ',':
			toks = append(toks, token{kind: tokComma, text: ",", pos: i})
			i++
			continue
		}

		if isDigit(c) || ((c == '+' || c == '-') && operandExpected(toks)) {
			if end := scanNumber(s, i); end > i {
				text := s[i:end]
				v, err := strconv.ParseFloat(text, 64)
				if err != nil {
					return nil, syntaxError(i, "invalid number %q", text)
				}
				toks = append(toks, token{kind: tokNumber, text: text, pos: i, num: v})
				i = end
				continue
			}
		}

		if isLetter(c) {
			end := scanIdent(s, i)
			name := s[i:end]
			if _, ok := keywords[name]; ok {
				toks = append(toks, token{kind: tokKeyword, text: name, pos: i})
			} else if nextNonSpace(s, end) == '(' {
				fn, ok := functions[name]
				if !ok {
					return nil, &Error{Kind: ErrUnknownFunction, Pos: i, Name: name}
				}
				toks = append(toks, token{kind: tokFunc, text: name, pos: i, fn: fn})
			} else {
				toks = append(toks, token{kind: tokBand, text: name, pos: i})
			}
			i = end
			continue
		}

		matched := false
		for _, op := range operators {
			if len(s)-i >= len(op) && s[i:i+len(op)] == op {
				toks = append(toks, token{kind: tokOp, text: op, pos: i})
				i += len(op)
				matched = true
				break
			}
		}
		if !matched {
			return nil, syntaxError(i, "unexpected character %q", c)
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(s)})
	return toks, nil
}
