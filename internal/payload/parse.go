// Package payload parses the semi-structured "details" column of a raw
// vehicle detection record.
//
// The upstream edge pipeline writes details as a Python dict literal, e.g.
//
//	{'class_name': 'car', 'estimated_speed': 42.5, 'last_appearance': False}
//
// Parse turns that text into a flat attribute map. Malformed payloads are
// treated as "no attributes": Parse never fails and never panics.
package payload

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// Attributes maps attribute names to their literal text. A nil value marks a
// None literal: the key exists but carries no value.
type Attributes map[string]*string

// Keys returns the attribute names in unspecified order.
func (a Attributes) Keys() []string {
	out := make([]string, 0, len(a))
	for k := range a {
		out = append(out, k)
	}
	return out
}

var (
	errNotScalarKey = errors.New("payload: dict key must be a scalar")
	errNoneKey      = errors.New("payload: dict key must not be None")
	errBracket      = errors.New("payload: mismatched brackets")
)

var literalLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "String", Pattern: `'(?:\\.|[^'\\\n])*'|"(?:\\.|[^"\\\n])*"`},
	{Name: "Number", Pattern: `(?:[-+][ \t\r\n]*)?(?:0[xX][0-9a-fA-F_]+|0[oO][0-7_]+|0[bB][01_]+|(?:[0-9][0-9_]*(?:\.[0-9_]*)?|\.[0-9][0-9_]*)(?:[eE][-+]?[0-9]+)?)`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
	{Name: "Punct", Pattern: `[{}\[\]():,]`},
	{Name: "Whitespace", Pattern: `[ \t\r\n]+`},
})

type dictNode struct {
	Open    string       `@"{"`
	Entries []*entryNode `( @@ ( "," @@ )* ","? )? "}"`
}

type entryNode struct {
	Key   *valueNode `@@ ":"`
	Value *valueNode `@@`
}

type valueNode struct {
	Str   *string   `  @String`
	Num   *string   `| @Number`
	Ident *string   `| @Ident`
	Dict  *dictNode `| @@`
	Seq   *seqNode  `| @@`
}

// seqNode covers lists and tuples; the closing bracket is checked after parsing.
type seqNode struct {
	Open  string       `@( "[" | "(" )`
	Items []*valueNode `( @@ ( "," @@ )* ","? )?`
	Close string       `@( "]" | ")" )`
}

var literalParser = participle.MustBuild[dictNode](
	participle.Lexer(literalLexer),
	participle.Elide("Whitespace"),
	participle.UseLookahead(2),
)

// Parse returns the attribute map encoded in raw, or an empty map when raw is
// empty or malformed.
func Parse(raw string) Attributes {
	attrs, err := ParseStrict(raw)
	if err != nil {
		return Attributes{}
	}
	return attrs
}

// ParseStrict is Parse with the failure reported. Empty input is not an
// error. A returned error always comes with a nil map.
func ParseStrict(raw string) (attrs Attributes, err error) {
	if strings.TrimSpace(raw) == "" {
		return Attributes{}, nil
	}

	// The grammar is recursive; a pathological payload must not take the job down.
	defer func() {
		if r := recover(); r != nil {
			attrs, err = nil, fmt.Errorf("payload: parser panic: %v", r)
		}
	}()

	root, err := literalParser.ParseString("", raw)
	if err != nil {
		return nil, err
	}

	out := make(Attributes, len(root.Entries))
	for _, e := range root.Entries {
		key, isNone, err := e.Key.scalarText()
		if err != nil {
			return nil, err
		}
		if isNone {
			return nil, errNoneKey
		}

		val, isNone, err := e.Value.text()
		if err != nil {
			return nil, err
		}
		if isNone {
			out[key] = nil
			continue
		}
		v := val
		out[key] = &v
	}
	return out, nil
}

// scalarText renders a scalar the way Python's str() does. Containers are
// rejected.
func (n *valueNode) scalarText() (text string, isNone bool, err error) {
	switch {
	case n.Str != nil:
		s, err := unquotePython(*n.Str)
		return s, false, err
	case n.Num != nil:
		s, err := normalizeNumber(*n.Num)
		return s, false, err
	case n.Ident != nil:
		switch *n.Ident {
		case "True", "False":
			return *n.Ident, false, nil
		case "None":
			return "", true, nil
		default:
			return "", false, fmt.Errorf("payload: unexpected name %q", *n.Ident)
		}
	}
	return "", false, errNotScalarKey
}

// text renders a value: scalars as str(), containers as repr().
func (n *valueNode) text() (string, bool, error) {
	if n.Dict == nil && n.Seq == nil {
		return n.scalarText()
	}
	var b strings.Builder
	if err := n.writeRepr(&b); err != nil {
		return "", false, err
	}
	return b.String(), false, nil
}

func (n *valueNode) writeRepr(b *strings.Builder) error {
	switch {
	case n.Str != nil:
		s, err := unquotePython(*n.Str)
		if err != nil {
			return err
		}
		b.WriteString(reprString(s))
		return nil
	case n.Dict != nil:
		b.WriteByte('{')
		for i, e := range n.Dict.Entries {
			if i > 0 {
				b.WriteString(", ")
			}
			if e.Key.Dict != nil || e.Key.Seq != nil {
				return errNotScalarKey
			}
			if err := e.Key.writeRepr(b); err != nil {
				return err
			}
			b.WriteString(": ")
			if err := e.Value.writeRepr(b); err != nil {
				return err
			}
		}
		b.WriteByte('}')
		return nil
	case n.Seq != nil:
		open, closing := n.Seq.Open, n.Seq.Close
		if (open == "[" && closing != "]") || (open == "(" && closing != ")") {
			return errBracket
		}
		b.WriteString(open)
		for i, it := range n.Seq.Items {
			if i > 0 {
				b.WriteString(", ")
			}
			if err := it.writeRepr(b); err != nil {
				return err
			}
		}
		if open == "(" && len(n.Seq.Items) == 1 {
			b.WriteByte(',')
		}
		b.WriteString(closing)
		return nil
	}

	s, isNone, err := n.scalarText()
	if err != nil {
		return err
	}
	if isNone {
		s = "None"
	}
	b.WriteString(s)
	return nil
}

// normalizeNumber renders an int or float token as Python's str() would.
func normalizeNumber(tok string) (string, error) {
	neg := false
	switch tok[0] {
	case '-':
		neg = true
		tok = tok[1:]
	case '+':
		tok = tok[1:]
	}
	tok = strings.TrimLeft(tok, " \t\r\n")

	if isIntLiteral(tok) {
		if len(tok) > 1 && tok[0] == '0' && (tok[1] == '_' || (tok[1] >= '0' && tok[1] <= '9')) &&
			strings.Trim(tok, "0_") != "" {
			return "", fmt.Errorf("payload: leading zeros in %q", tok)
		}
		n, ok := new(big.Int).SetString(tok, 0)
		if !ok {
			return "", fmt.Errorf("payload: bad integer %q", tok)
		}
		if neg {
			n.Neg(n)
		}
		return n.String(), nil
	}

	f, err := strconv.ParseFloat(strings.ReplaceAll(tok, "_", ""), 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return "", fmt.Errorf("payload: bad float %q: %w", tok, err)
	}
	if neg {
		f = -f
	}
	return FormatFloat(f), nil
}

func isIntLiteral(tok string) bool {
	if len(tok) > 1 && tok[0] == '0' {
		switch tok[1] {
		case 'x', 'X', 'o', 'O', 'b', 'B':
			return true
		}
	}
	return !strings.ContainsAny(tok, ".eE")
}

// FormatFloat renders f like Python's repr(float).
func FormatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// unquotePython strips the quotes of a lexed string token and resolves
// escapes with Python rules: unknown escapes keep their backslash and \x
// denotes a code point, not a byte.
func unquotePython(tok string) (string, error) {
	if len(tok) < 2 {
		return "", fmt.Errorf("payload: bad string token %q", tok)
	}
	body := tok[1 : len(tok)-1]
	if !strings.Contains(body, `\`) {
		return body, nil
	}

	var b strings.Builder
	b.Grow(len(body))
	for len(body) > 0 {
		if body[0] != '\\' || len(body) == 1 {
			_, size := utf8.DecodeRuneInString(body)
			b.WriteString(body[:size])
			body = body[size:]
			continue
		}
		switch c := body[1]; c {
		case '\'', '"', '\\':
			b.WriteByte(c)
			body = body[2:]
		case 'a', 'b', 'f', 'n', 'r', 't', 'v', 'x', 'u', 'U', '0', '1', '2', '3', '4', '5', '6', '7':
			r, _, tail, err := strconv.UnquoteChar(body, 0)
			if err != nil {
				return "", fmt.Errorf("payload: bad escape in %q: %w", tok, err)
			}
			b.WriteRune(r)
			body = tail
		default:
			b.WriteByte('\\')
			body = body[1:]
		}
	}
	return b.String(), nil
}

// reprString quotes s the way Python's repr(str) does for common input.
func reprString(s string) string {
	quote := byte('\'')
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		quote = '"'
	}
	var b strings.Builder
	b.WriteByte(quote)
	for _, r := range s {
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case r == rune(quote):
			b.WriteByte('\\')
			b.WriteByte(quote)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte(quote)
	return b.String()
}
