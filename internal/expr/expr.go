// Package expr implements the boolean expression language used by step
// conditions and event trigger filters. The grammar is deliberately narrow:
// comparisons, and/or/not, literals, and variable lookups only. There is no
// function call syntax and no way to reach outside the supplied variables.
package expr

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode"
)

// Eval parses and evaluates a condition against the given variables. Any
// parse or evaluation error is returned so callers can decide how to degrade;
// the engine treats errors as a false result.
func Eval(condition string, variables map[string]interface{}) (bool, error) {
	p := &parser{tokens: lex(condition)}
	node, err := p.parseOr()
	if err != nil {
		return false, err
	}
	if !p.atEnd() {
		return false, fmt.Errorf("unexpected token %q", p.peek().text)
	}
	v, err := node.eval(variables)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokNumber
	tokString
	tokOp    // == != < <= > >=
	tokAnd   // and &&
	tokOr    // or ||
	tokNot   // not !
	tokLParen
	tokRParen
	tokEOF
	tokError
)

type token struct {
	kind tokenKind
	text string
}

func lex(input string) []token {
	var out []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			out = append(out, token{tokLParen, "("})
			i++
		case c == ')':
			out = append(out, token{tokRParen, ")"})
			i++
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < len(input) && input[j] != quote {
				j++
			}
			if j >= len(input) {
				out = append(out, token{tokError, "unterminated string"})
				return out
			}
			out = append(out, token{tokString, input[i+1 : j]})
			i = j + 1
		case strings.ContainsRune("=!<>", rune(c)):
			if i+1 < len(input) && input[i+1] == '=' {
				out = append(out, token{tokOp, input[i : i+2]})
				i += 2
			} else if c == '<' || c == '>' {
				out = append(out, token{tokOp, string(c)})
				i++
			} else if c == '!' {
				out = append(out, token{tokNot, "!"})
				i++
			} else {
				out = append(out, token{tokError, "stray '='"})
				return out
			}
		case c == '&' || c == '|':
			if i+1 < len(input) && input[i+1] == c {
				if c == '&' {
					out = append(out, token{tokAnd, "&&"})
				} else {
					out = append(out, token{tokOr, "||"})
				}
				i += 2
			} else {
				out = append(out, token{tokError, "stray '" + string(c) + "'"})
				return out
			}
		case unicode.IsDigit(rune(c)) || (c == '-' && i+1 < len(input) && unicode.IsDigit(rune(input[i+1]))):
			j := i + 1
			for j < len(input) && (unicode.IsDigit(rune(input[j])) || input[j] == '.') {
				j++
			}
			out = append(out, token{tokNumber, input[i:j]})
			i = j
		case unicode.IsLetter(rune(c)) || c == '_':
			j := i + 1
			for j < len(input) && (unicode.IsLetter(rune(input[j])) || unicode.IsDigit(rune(input[j])) || input[j] == '_' || input[j] == '.') {
				j++
			}
			word := input[i:j]
			switch word {
			case "and":
				out = append(out, token{tokAnd, word})
			case "or":
				out = append(out, token{tokOr, word})
			case "not":
				out = append(out, token{tokNot, word})
			default:
				out = append(out, token{tokIdent, word})
			}
			i = j
		default:
			out = append(out, token{tokError, "unexpected character " + strconv.QuoteRune(rune(c))})
			return out
		}
	}
	out = append(out, token{tokEOF, ""})
	return out
}

type node interface {
	eval(vars map[string]interface{}) (interface{}, error)
}

type binaryNode struct {
	op          string
	left, right node
}

type notNode struct{ inner node }

type literalNode struct{ value interface{} }

type lookupNode struct{ path string }

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) atEnd() bool { return p.peek().kind == tokEOF }

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.peek().kind == tokNot {
		p.next()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &notNode{inner: inner}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if p.peek().kind == tokOp {
		op := p.next().text
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &binaryNode{op: op, left: left, right: right}, nil
	}
	return left, nil
}

func (p *parser) parseOperand() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t.text)
		}
		return &literalNode{value: f}, nil
	case tokString:
		return &literalNode{value: t.text}, nil
	case tokIdent:
		switch t.text {
		case "true", "True":
			return &literalNode{value: true}, nil
		case "false", "False":
			return &literalNode{value: false}, nil
		case "null", "nil", "None":
			return &literalNode{value: nil}, nil
		}
		return &lookupNode{path: t.text}, nil
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokRParen {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		return inner, nil
	case tokError:
		return nil, fmt.Errorf("lex error: %s", t.text)
	default:
		return nil, fmt.Errorf("unexpected token %q", t.text)
	}
}

func (n *binaryNode) eval(vars map[string]interface{}) (interface{}, error) {
	switch n.op {
	case "and":
		l, err := n.left.eval(vars)
		if err != nil {
			return nil, err
		}
		if !truthy(l) {
			return false, nil
		}
		r, err := n.right.eval(vars)
		if err != nil {
			return nil, err
		}
		return truthy(r), nil
	case "or":
		l, err := n.left.eval(vars)
		if err != nil {
			return nil, err
		}
		if truthy(l) {
			return true, nil
		}
		r, err := n.right.eval(vars)
		if err != nil {
			return nil, err
		}
		return truthy(r), nil
	}

	l, err := n.left.eval(vars)
	if err != nil {
		return nil, err
	}
	r, err := n.right.eval(vars)
	if err != nil {
		return nil, err
	}
	return compare(n.op, l, r)
}

func (n *notNode) eval(vars map[string]interface{}) (interface{}, error) {
	v, err := n.inner.eval(vars)
	if err != nil {
		return nil, err
	}
	return !truthy(v), nil
}

func (n *literalNode) eval(map[string]interface{}) (interface{}, error) {
	return n.value, nil
}

func (n *lookupNode) eval(vars map[string]interface{}) (interface{}, error) {
	var current interface{} = vars
	for _, part := range strings.Split(n.path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("cannot descend into %q of %s", part, n.path)
		}
		v, exists := m[part]
		if !exists {
			return nil, fmt.Errorf("unknown variable %q", n.path)
		}
		current = v
	}
	return current, nil
}

func compare(op string, l, r interface{}) (interface{}, error) {
	lf, lNum := asFloat(l)
	rf, rNum := asFloat(r)

	switch op {
	case "==":
		if lNum && rNum {
			return lf == rf, nil
		}
		return reflect.DeepEqual(l, r), nil
	case "!=":
		if lNum && rNum {
			return lf != rf, nil
		}
		return !reflect.DeepEqual(l, r), nil
	}

	// Ordering operators: numbers compare numerically, strings
	// lexicographically, anything else is an error.
	if lNum && rNum {
		switch op {
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		}
	}
	ls, lok := l.(string)
	rs, rok := r.(string)
	if lok && rok {
		switch op {
		case "<":
			return ls < rs, nil
		case "<=":
			return ls <= rs, nil
		case ">":
			return ls > rs, nil
		case ">=":
			return ls >= rs, nil
		}
	}
	return nil, fmt.Errorf("cannot apply %q to %T and %T", op, l, r)
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case map[string]interface{}:
		return len(t) > 0
	case []interface{}:
		return len(t) > 0
	}
	return true
}
