package expression

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/XXueTu/graph_automation/types"
)

var wordOperators = map[string]struct{}{
	"and": {}, "or": {}, "not": {}, "is": {},
	"contains": {}, "starts_with": {}, "ends_with": {},
}

var symbolOperators = map[string]Operator{
	"==": OpEquals,
	"!=": OpNotEquals,
	">":  OpGreaterThan,
	">=": OpGreaterOrEqual,
	"<":  OpLessThan,
	"<=": OpLessOrEqual,
}

// Evaluator 表达式求值器
// 语法有界：比较、AND/OR/NOT、括号、路径与字面量，不执行任意代码
type Evaluator struct {
	clock  types.Clock
	logger *slog.Logger
}

// Option 求值器配置选项
type Option func(*Evaluator)

// WithClock 设置 now() 使用的时钟
func WithClock(clock types.Clock) Option {
	return func(e *Evaluator) {
		e.clock = clock
	}
}

// WithLogger 设置日志
func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

// NewEvaluator 创建求值器
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{}
	for _, opt := range opts {
		opt(e)
	}
	if e.clock == nil {
		e.clock = types.SystemClock{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "expression")
	return e
}

var defaultEvaluator = NewEvaluator()

// Evaluate 使用默认求值器计算表达式
func Evaluate(expr string, vars map[string]interface{}) (interface{}, error) {
	return defaultEvaluator.Evaluate(expr, vars)
}

// EvaluateBool 使用默认求值器计算布尔表达式
func EvaluateBool(expr string, vars map[string]interface{}) (bool, error) {
	return defaultEvaluator.EvaluateBool(expr, vars)
}

// Evaluate 计算表达式的值
func (e *Evaluator) Evaluate(expr string, vars map[string]interface{}) (interface{}, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, NewExpressionError("empty expression")
	}
	tokens, err := lex(expr)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens, vars: vars, eval: e}
	value, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, NewExpressionErrorf("unexpected %q at position %d", tok.text, tok.pos)
	}
	return value, nil
}

// EvaluateBool 计算表达式并解释为布尔值
func (e *Evaluator) EvaluateBool(expr string, vars map[string]interface{}) (bool, error) {
	value, err := e.Evaluate(expr, vars)
	if err != nil {
		return false, err
	}
	return Truthy(value), nil
}

type parser struct {
	tokens []token
	pos    int
	vars   map[string]interface{}
	eval   *Evaluator
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) peekAt(offset int) token {
	if p.pos+offset >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[p.pos+offset]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) isOperator(symbols ...string) bool {
	tok := p.peek()
	if tok.kind != tokOperator {
		return false
	}
	for _, s := range symbols {
		if tok.text == s {
			return true
		}
	}
	return false
}

func isWord(tok token, words ...string) bool {
	if tok.kind != tokIdent {
		return false
	}
	for _, w := range words {
		if strings.EqualFold(tok.text, w) {
			return true
		}
	}
	return false
}

func (p *parser) parseOr() (interface{}, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isOperator("||") || isWord(p.peek(), "or") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = Truthy(left) || Truthy(right)
	}
	return left, nil
}

func (p *parser) parseAnd() (interface{}, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isOperator("&&") || isWord(p.peek(), "and") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = Truthy(left) && Truthy(right)
	}
	return left, nil
}

func (p *parser) parseNot() (interface{}, error) {
	if p.isOperator("!") || isWord(p.peek(), "not") {
		p.next()
		value, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return !Truthy(value), nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (interface{}, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	tok := p.peek()
	if tok.kind == tokOperator {
		if op, ok := symbolOperators[tok.text]; ok {
			p.next()
			right, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			return Compare(left, op, right)
		}
	}

	switch {
	case isWord(tok, "contains", "starts_with", "ends_with"):
		p.next()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return Compare(left, Operator(strings.ToLower(tok.text)), right)
	case isWord(tok, "not") && isWord(p.peekAt(1), "contains"):
		p.next()
		p.next()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return Compare(left, OpNotContains, right)
	case isWord(tok, "is"):
		p.next()
		negate := false
		if isWord(p.peek(), "not") {
			p.next()
			negate = true
		}
		if !isWord(p.peek(), "empty") {
			return nil, NewExpressionErrorf("expected 'empty' at position %d", p.peek().pos)
		}
		p.next()
		empty := IsEmpty(left)
		if negate {
			return !empty, nil
		}
		return empty, nil
	}
	return left, nil
}

func (p *parser) parseOperand() (interface{}, error) {
	tok := p.next()
	switch tok.kind {
	case tokLParen:
		value, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, NewExpressionErrorf("expected ')' at position %d", closing.pos)
		}
		return value, nil
	case tokNumber:
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, NewExpressionErrorf("invalid number %q", tok.text)
		}
		return f, nil
	case tokString:
		return tok.text, nil
	case tokTemplate:
		return p.eval.resolve(tok.text, p.vars)
	case tokIdent:
		switch strings.ToLower(tok.text) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "null", "nil":
			return nil, nil
		case "now":
			if p.peek().kind == tokLParen && p.peekAt(1).kind == tokRParen {
				p.next()
				p.next()
				return p.eval.clock.Now(), nil
			}
		}
		if _, reserved := wordOperators[strings.ToLower(tok.text)]; reserved {
			return nil, NewExpressionErrorf("unexpected %q at position %d", tok.text, tok.pos)
		}
		value, _ := Lookup(p.vars, tok.text)
		return value, nil
	case tokEOF:
		return nil, NewExpressionError("unexpected end of expression")
	}
	return nil, NewExpressionErrorf("unexpected %q at position %d", tok.text, tok.pos)
}
