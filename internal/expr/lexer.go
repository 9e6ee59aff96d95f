package expr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenType int

const (
	tokEOF tokenType = iota
	tokNumber
	tokString
	tokIdent
	tokOp
)

type token struct {
	typ tokenType
	// text is the operator or identifier, or the decoded string literal.
	text string
	num  any
	pos  int
}

func (t token) String() string {
	switch t.typ {
	case tokEOF:
		return "end of expression"
	case tokString:
		return strconv.Quote(t.text)
	}
	return fmt.Sprintf("%q", t.text)
}

// operators, longest first so "<=" wins over "<".
var operators = []string{
	"<=", ">=", "==", "!=", "&&", "||",
	"(", ")", "[", "]", ",",
	"+", "-", "*", "/", "%", "<", ">", "!",
}

func lex(src string) ([]token, error) {
	var tokens []token
	i := 0

	for i < len(src) {
		c := rune(src[i])

		switch {
		case unicode.IsSpace(c):
			i++

		case isDigit(c) || (c == '.' && i+1 < len(src) && isDigit(rune(src[i+1]))):
			tok, n, err := lexNumber(src, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
			i += n

		case c == '"' || c == '\'':
			s, n, err := lexString(src, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{typ: tokString, text: s, pos: i})
			i += n

		case c == '_' || unicode.IsLetter(c):
			start := i
			for i < len(src) && (src[i] == '_' || unicode.IsLetter(rune(src[i])) || isDigit(rune(src[i]))) {
				i++
			}
			tokens = append(tokens, token{typ: tokIdent, text: src[start:i], pos: start})

		default:
			op := matchOperator(src[i:])
			if op == "" {
				return nil, fmt.Errorf("%w: unexpected character %q at %d", ErrSyntax, c, i)
			}
			tokens = append(tokens, token{typ: tokOp, text: op, pos: i})
			i += len(op)
		}
	}

	return append(tokens, token{typ: tokEOF, pos: len(src)}), nil
}

func matchOperator(s string) string {
	for _, op := range operators {
		if strings.HasPrefix(s, op) {
			return op
		}
	}
	return ""
}

func isDigit(c rune) bool { return c >= '0' && c <= '9' }

// lexNumber reads an integer or float literal starting at src[start].
func lexNumber(src string, start int) (token, int, error) {
	i := start
	isFloat := false
	for i < len(src) && isDigit(rune(src[i])) {
		i++
	}
	if i < len(src) && src[i] == '.' {
		isFloat = true
		i++
		for i < len(src) && isDigit(rune(src[i])) {
			i++
		}
	}
	if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
		j := i + 1
		if j < len(src) && (src[j] == '+' || src[j] == '-') {
			j++
		}
		if j < len(src) && isDigit(rune(src[j])) {
			isFloat = true
			i = j
			for i < len(src) && isDigit(rune(src[i])) {
				i++
			}
		}
	}

	text := src[start:i]
	if isFloat {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return token{}, 0, fmt.Errorf("%w: bad number %q at %d", ErrSyntax, text, start)
		}
		return token{typ: tokNumber, text: text, num: f, pos: start}, i - start, nil
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return token{}, 0, fmt.Errorf("%w: bad number %q at %d", ErrSyntax, text, start)
	}
	return token{typ: tokNumber, text: text, num: n, pos: start}, i - start, nil
}

// lexString reads a quoted literal and returns its decoded value.
func lexString(src string, start int) (string, int, error) {
	quote := src[start]
	var b strings.Builder

	i := start + 1
	for i < len(src) {
		c := src[i]
		switch {
		case c == quote:
			return b.String(), i + 1 - start, nil
		case c == '\\' && i+1 < len(src):
			i++
			switch src[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(src[i])
			}
		default:
			b.WriteByte(c)
		}
		i++
	}
	return "", 0, fmt.Errorf("%w: unterminated string at %d", ErrSyntax, start)
}
