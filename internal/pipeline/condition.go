package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/inkwellmd/inkwell/pkg/blackboard"
)

// conditionActor identifies condition reads in the blackboard audit log.
const conditionActor = "_condition"

// EvalCondition evaluates a step condition against the blackboard. The
// grammar is deliberately small: dotted field access, literals, comparisons,
// contains, and/or/not, parentheses. No function calls, no assignment.
//
// Paths resolve through region aliases: metadata.*, pages.*, outputs.*,
// notes.*, signals.* (full region names work too). A missing value or a
// malformed expression is an error; callers treat errors as "run the step".
func EvalCondition(expr string, board *blackboard.Blackboard) (bool, error) {
	tokens, err := tokenizeCondition(expr)
	if err != nil {
		return false, err
	}
	p := &condParser{tokens: tokens, board: board}
	value, err := p.parseOr()
	if err != nil {
		return false, err
	}
	if p.pos != len(p.tokens) {
		return false, fmt.Errorf("unexpected token %q", p.tokens[p.pos])
	}
	return truthy(value), nil
}

// ── Tokenizer ──

func tokenizeCondition(expr string) ([]string, error) {
	var tokens []string
	runes := []rune(expr)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(' || r == ')':
			tokens = append(tokens, string(r))
			i++
		case r == '\'' || r == '"':
			quote := r
			j := i + 1
			for j < len(runes) && runes[j] != quote {
				j++
			}
			if j >= len(runes) {
				return nil, fmt.Errorf("unterminated string in condition")
			}
			tokens = append(tokens, string(quote)+string(runes[i+1:j]))
			i = j + 1
		case strings.ContainsRune("=!<>", r):
			j := i + 1
			if j < len(runes) && runes[j] == '=' {
				j++
			}
			op := string(runes[i:j])
			switch op {
			case "==", "!=", "<", "<=", ">", ">=":
				tokens = append(tokens, op)
			default:
				return nil, fmt.Errorf("bad operator %q", op)
			}
			i = j
		case unicode.IsDigit(r) || (r == '-' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			j := i + 1
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
				j++
			}
			tokens = append(tokens, string(runes[i:j]))
			i = j
		case unicode.IsLetter(r) || r == '_':
			j := i
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_' || runes[j] == '.') {
				j++
			}
			tokens = append(tokens, string(runes[i:j]))
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q in condition", r)
		}
	}
	return tokens, nil
}

// ── Parser ──

type condParser struct {
	tokens []string
	pos    int
	board  *blackboard.Blackboard
}

func (p *condParser) peek() string {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return ""
}

func (p *condParser) next() string {
	tok := p.peek()
	p.pos++
	return tok
}

func (p *condParser) parseOr() (any, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek() == "or" {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = truthy(left) || truthy(right)
	}
	return left, nil
}

func (p *condParser) parseAnd() (any, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek() == "and" {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = truthy(left) && truthy(right)
	}
	return left, nil
}

func (p *condParser) parseNot() (any, error) {
	if p.peek() == "not" {
		p.next()
		value, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return !truthy(value), nil
	}
	return p.parseComparison()
}

func (p *condParser) parseComparison() (any, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	op := p.peek()
	switch op {
	case "==", "!=", "<", "<=", ">", ">=", "contains":
		p.next()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return compare(op, left, right)
	}
	return left, nil
}

func (p *condParser) parseOperand() (any, error) {
	tok := p.next()
	switch {
	case tok == "":
		return nil, fmt.Errorf("condition ended unexpectedly")
	case tok == "(":
		value, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next() != ")" {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		return value, nil
	case tok[0] == '\'' || tok[0] == '"':
		return tok[1:], nil
	case tok == "true":
		return true, nil
	case tok == "false":
		return false, nil
	}
	if f, err := strconv.ParseFloat(tok, 64); err == nil {
		return f, nil
	}
	return p.resolvePath(tok)
}

// resolvePath reads a dotted path from the blackboard, translating the
// short region aliases used in conditions.
func (p *condParser) resolvePath(path string) (any, error) {
	head, rest, hasRest := strings.Cut(path, ".")
	if !hasRest {
		return nil, fmt.Errorf("bare identifier %q, expected region.key", path)
	}

	region := blackboard.Region(head)
	switch head {
	case "metadata":
		region = blackboard.RegionDocumentMetadata
	case "pages":
		region = blackboard.RegionPageObservations
	case "outputs":
		region = blackboard.RegionStepOutputs
	case "notes":
		region = blackboard.RegionAgentNotes
	case "signals":
		region = blackboard.RegionConfidenceSignals
	}

	value, err := p.board.Read(region, rest, conditionActor)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", path, err)
	}
	return value, nil
}

// ── Semantics ──

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case []string:
		return len(val) > 0
	case []any:
		return len(val) > 0
	default:
		if f, ok := asNumber(v); ok {
			return f != 0
		}
		return true
	}
}

func compare(op string, left, right any) (any, error) {
	if op == "contains" {
		return contains(left, right)
	}

	lf, lok := asNumber(left)
	rf, rok := asNumber(right)
	if lok && rok {
		switch op {
		case "==":
			return lf == rf, nil
		case "!=":
			return lf != rf, nil
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

	ls := fmt.Sprint(left)
	rs := fmt.Sprint(right)
	switch op {
	case "==":
		return ls == rs, nil
	case "!=":
		return ls != rs, nil
	case "<", "<=", ">", ">=":
		return nil, fmt.Errorf("ordering comparison needs numbers, got %T and %T", left, right)
	}
	return nil, fmt.Errorf("unknown operator %q", op)
}

// contains handles both substring checks and list membership.
func contains(haystack, needle any) (bool, error) {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, fmt.Sprint(needle)), nil
	case []string:
		want := fmt.Sprint(needle)
		for _, item := range h {
			if item == want {
				return true, nil
			}
		}
		return false, nil
	case []any:
		want := fmt.Sprint(needle)
		for _, item := range h {
			if fmt.Sprint(item) == want {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("contains needs a string or list, got %T", haystack)
	}
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case *float64:
		if n == nil {
			return 0, false
		}
		return *n, true
	case *int:
		if n == nil {
			return 0, false
		}
		return float64(*n), true
	default:
		return 0, false
	}
}
