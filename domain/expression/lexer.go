package expression

import (
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokTemplate
	tokOperator
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lex 将表达式切分为词法单元
func lex(input string) ([]token, error) {
	tokens := make([]token, 0, 16)
	runes := []rune(input)
	i := 0

	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++
		case r == '{' && i+1 < len(runes) && runes[i+1] == '{':
			end := -1
			for j := i + 2; j+1 < len(runes); j++ {
				if runes[j] == '}' && runes[j+1] == '}' {
					end = j
					break
				}
			}
			if end < 0 {
				return nil, NewExpressionErrorf("unterminated template at position %d", i)
			}
			inner := strings.TrimSpace(string(runes[i+2 : end]))
			tokens = append(tokens, token{kind: tokTemplate, text: inner, pos: i})
			i = end + 2
		case r == '"' || r == '\'':
			quote := r
			var sb strings.Builder
			j := i + 1
			closed := false
			for j < len(runes) {
				if runes[j] == '\\' && j+1 < len(runes) {
					sb.WriteRune(runes[j+1])
					j += 2
					continue
				}
				if runes[j] == quote {
					closed = true
					break
				}
				sb.WriteRune(runes[j])
				j++
			}
			if !closed {
				return nil, NewExpressionErrorf("unterminated string at position %d", i)
			}
			tokens = append(tokens, token{kind: tokString, text: sb.String(), pos: i})
			i = j + 1
		case unicode.IsDigit(r) || (r == '-' && i+1 < len(runes) && unicode.IsDigit(runes[i+1]) && expectsOperand(tokens)):
			j := i + 1
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
				j++
			}
			tokens = append(tokens, token{kind: tokNumber, text: string(runes[i:j]), pos: i})
			i = j
		case strings.ContainsRune("=!<>&|", r):
			two := ""
			if i+1 < len(runes) {
				two = string(runes[i : i+2])
			}
			switch two {
			case "==", "!=", ">=", "<=", "&&", "||":
				tokens = append(tokens, token{kind: tokOperator, text: two, pos: i})
				i += 2
				continue
			}
			switch r {
			case '>', '<', '!':
				tokens = append(tokens, token{kind: tokOperator, text: string(r), pos: i})
				i++
			case '=':
				tokens = append(tokens, token{kind: tokOperator, text: "==", pos: i})
				i++
			default:
				return nil, NewExpressionErrorf("unexpected %q at position %d", r, i)
			}
		case isIdentRune(r):
			j := i + 1
			for j < len(runes) && (isIdentRune(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '.' || runes[j] == '[' || runes[j] == ']') {
				j++
			}
			tokens = append(tokens, token{kind: tokIdent, text: string(runes[i:j]), pos: i})
			i = j
		default:
			return nil, NewExpressionErrorf("unexpected %q at position %d", r, i)
		}
	}

	tokens = append(tokens, token{kind: tokEOF, pos: len(runes)})
	return tokens, nil
}

func isIdentRune(r rune) bool {
	return unicode.IsLetter(r) || r == '_' || r == '$'
}

// expectsOperand 负号是否位于操作数位置
func expectsOperand(tokens []token) bool {
	if len(tokens) == 0 {
		return true
	}
	last := tokens[len(tokens)-1]
	if last.kind == tokOperator || last.kind == tokLParen {
		return true
	}
	if last.kind == tokIdent {
		_, isWord := wordOperators[strings.ToLower(last.text)]
		return isWord
	}
	return false
}
