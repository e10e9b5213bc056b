package expr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tkEOF    tokenKind = iota
	tkNumber           // 42, 0.8, 1e3
	tkString           // "hello", 'hello'
	tkIdent            // names and keywords
	tkPunct            // operators and delimiters
)

type token struct {
	kind  tokenKind
	value string
	num   float64
	pos   int
}

func (t token) is(punct string) bool { return t.kind == tkPunct && t.value == punct }

func (t token) isKeyword(kw string) bool { return t.kind == tkIdent && t.value == kw }

// operators, longest first.
var punctuators = []string{
	"===", "!==",
	"=>", "==", "!=", "<=", ">=", "&&", "||", "??", "+=", "-=", "*=", "/=", "++", "--",
	"+", "-", "*", "/", "%", "<", ">", "=", "!", "?", ":", ".", ",", ";",
	"(", ")", "[", "]", "{", "}",
}

func tokenize(src string) ([]token, error) {
	var tokens []token
	runes := []rune(src)
	i := 0

	for i < len(runes) {
		ch := runes[i]

		if unicode.IsSpace(ch) {
			i++
			continue
		}

		// comments
		if ch == '/' && i+1 < len(runes) {
			if runes[i+1] == '/' {
				for i < len(runes) && runes[i] != '\n' {
					i++
				}
				continue
			}
			if runes[i+1] == '*' {
				start := i
				i += 2
				for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
					i++
				}
				if i+1 >= len(runes) {
					return nil, fmt.Errorf("unterminated comment at position %d", start)
				}
				i += 2
				continue
			}
		}

		if ch == '"' || ch == '\'' {
			s, n, err := readString(runes, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tkString, value: s, pos: i})
			i = n
			continue
		}
		if ch == '`' {
			return nil, fmt.Errorf("template literals are not supported (position %d)", i)
		}

		if isDigit(ch) || (ch == '.' && i+1 < len(runes) && isDigit(runes[i+1])) {
			text, n := readNumber(runes, i)
			f, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q at position %d", text, i)
			}
			tokens = append(tokens, token{kind: tkNumber, value: text, num: f, pos: i})
			i = n
			continue
		}

		if isIdentStart(ch) {
			start := i
			for i < len(runes) && isIdentPart(runes[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tkIdent, value: string(runes[start:i]), pos: start})
			continue
		}

		matched := false
		for _, p := range punctuators {
			pr := []rune(p)
			if i+len(pr) <= len(runes) && string(runes[i:i+len(pr)]) == p {
				tokens = append(tokens, token{kind: tkPunct, value: p, pos: i})
				i += len(pr)
				matched = true
				break
			}
		}
		if matched {
			continue
		}

		return nil, fmt.Errorf("unexpected character %q at position %d", string(ch), i)
	}

	tokens = append(tokens, token{kind: tkEOF, pos: len(runes)})
	return tokens, nil
}

func readString(runes []rune, start int) (string, int, error) {
	quote := runes[start]
	i := start + 1
	var sb strings.Builder
	for i < len(runes) {
		ch := runes[i]
		if ch == '\\' && i+1 < len(runes) {
			i++
			switch runes[i] {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '0':
				sb.WriteByte(0)
			case 'u':
				if i+4 < len(runes) {
					if code, err := strconv.ParseUint(string(runes[i+1:i+5]), 16, 32); err == nil {
						sb.WriteRune(rune(code))
						i += 5
						continue
					}
				}
				sb.WriteRune('u')
			default:
				sb.WriteRune(runes[i])
			}
			i++
			continue
		}
		if ch == quote {
			return sb.String(), i + 1, nil
		}
		if ch == '\n' {
			break
		}
		sb.WriteRune(ch)
		i++
	}
	return "", 0, fmt.Errorf("unterminated string starting at position %d", start)
}

func readNumber(runes []rune, start int) (string, int) {
	i := start
	for i < len(runes) && isDigit(runes[i]) {
		i++
	}
	if i < len(runes) && runes[i] == '.' {
		i++
		for i < len(runes) && isDigit(runes[i]) {
			i++
		}
	}
	if i < len(runes) && (runes[i] == 'e' || runes[i] == 'E') {
		j := i + 1
		if j < len(runes) && (runes[j] == '+' || runes[j] == '-') {
			j++
		}
		if j < len(runes) && isDigit(runes[j]) {
			i = j
			for i < len(runes) && isDigit(runes[i]) {
				i++
			}
		}
	}
	return string(runes[start:i]), i
}

func isDigit(ch rune) bool      { return ch >= '0' && ch <= '9' }
func isIdentStart(ch rune) bool { return unicode.IsLetter(ch) || ch == '_' || ch == '$' }
func isIdentPart(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == '$'
}
