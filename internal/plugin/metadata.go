// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package plugin

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/samber/oops"
)

// metadataVariable is the top-level assignment the scanner looks for in a
// plugin source file. The right-hand side must be a plain dict literal; it is
// parsed with a restricted grammar and never executed.
const metadataVariable = "PLUGIN_INFO"

// assignPattern locates the metadata assignment at the start of a line.
var assignPattern = regexp.MustCompile(`(?m)^` + metadataVariable + `\s*=\s*\{`)

// literalLexer tokenizes the restricted dict-literal grammar: single- or
// double-quoted strings, numbers, True/False/None, brackets, and comments.
var literalLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "String", Pattern: `"(\\.|[^"\\])*"|'(\\.|[^'\\])*'`},
	{Name: "Number", Pattern: `[-+]?\d+(\.\d+)?`},
	{Name: "Ident", Pattern: `[A-Za-z_]\w*`},
	{Name: "Punct", Pattern: `[{}\[\]:,]`},
	{Name: "comment", Pattern: `#[^\n]*`},
	{Name: "whitespace", Pattern: `\s+`},
})

// dictLiteral is a dict with string keys and literal values. Trailing commas
// are tolerated, matching what plugin authors actually write.
type dictLiteral struct {
	Entries []*dictEntry `parser:"'{' ( @@ ( ',' @@ )* ','? )? '}'"`
}

// dictEntry is a single key: value pair.
type dictEntry struct {
	Key   string        `parser:"@String ':'"`
	Value *literalValue `parser:"@@"`
}

// literalValue is one restricted scalar or container value.
type literalValue struct {
	Str    *string      `parser:"  @String"`
	Number *float64     `parser:"| @Number"`
	Bool   *string      `parser:"| @('True' | 'False')"`
	None   bool         `parser:"| @'None'"`
	List   *listLiteral `parser:"| @@"`
	Dict   *dictLiteral `parser:"| @@"`
}

// listLiteral is a list of literal values.
type listLiteral struct {
	Items []*literalValue `parser:"'[' ( @@ ( ',' @@ )* ','? )? ']'"`
}

// literalParser is the singleton parser for metadata dict literals.
var literalParser = participle.MustBuild[dictLiteral](
	participle.Lexer(literalLexer),
)

// ExtractMetadata finds and parses the PLUGIN_INFO literal in plugin source.
// The source is never executed; anything the restricted grammar cannot
// express is a parse error and yields a broken record upstream.
func ExtractMetadata(src []byte) (map[string]any, error) {
	loc := assignPattern.FindIndex(src)
	if loc == nil {
		return nil, oops.Code(codeDiscoveryFailed).Errorf("no %s assignment found", metadataVariable)
	}

	literal, err := balancedDict(string(src[loc[1]-1:]))
	if err != nil {
		return nil, oops.Code(codeDiscoveryFailed).Wrap(err)
	}

	dict, err := literalParser.ParseString("", literal)
	if err != nil {
		return nil, oops.Code(codeDiscoveryFailed).Wrapf(err, "parsing %s literal", metadataVariable)
	}

	return dict.toMap(), nil
}

// balancedDict returns the prefix of s holding one balanced {...} literal,
// tracking quotes and comments so braces inside strings don't count.
func balancedDict(s string) (string, error) {
	depth := 0
	var quote byte
	escaped := false
	inComment := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case quote != 0:
			if c == '\\' {
				escaped = true
			} else if c == quote {
				quote = 0
			}
		case inComment:
			if c == '\n' {
				inComment = false
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '#':
			inComment = true
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[:i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced braces in %s literal", metadataVariable)
}

// toMap converts the parsed literal into plain Go values.
func (d *dictLiteral) toMap() map[string]any {
	m := make(map[string]any, len(d.Entries))
	for _, e := range d.Entries {
		m[unquote(e.Key)] = e.Value.toValue()
	}
	return m
}

func (v *literalValue) toValue() any {
	switch {
	case v.Str != nil:
		return unquote(*v.Str)
	case v.Number != nil:
		return *v.Number
	case v.Bool != nil:
		return *v.Bool == "True"
	case v.List != nil:
		items := make([]any, len(v.List.Items))
		for i, it := range v.List.Items {
			items[i] = it.toValue()
		}
		return items
	case v.Dict != nil:
		return v.Dict.toMap()
	}
	return nil
}

// unquote strips the surrounding quotes from a string token and resolves
// the common backslash escapes.
func unquote(tok string) string {
	if len(tok) < 2 {
		return tok
	}
	body := tok[1 : len(tok)-1]
	if !strings.ContainsRune(body, '\\') {
		return body
	}
	var b strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' || i == len(body)-1 {
			b.WriteByte(c)
			continue
		}
		i++
		switch body[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '\\', '\'', '"':
			b.WriteByte(body[i])
		case 'x':
			if i+2 < len(body) {
				if n, err := strconv.ParseUint(body[i+1:i+3], 16, 8); err == nil {
					b.WriteByte(byte(n))
					i += 2
					continue
				}
			}
			b.WriteByte('x')
		default:
			b.WriteByte('\\')
			b.WriteByte(body[i])
		}
	}
	return b.String()
}

// recordFromMetadata builds a PluginRecord from a parsed metadata map.
// Missing fields stay zero; the id falls back to one derived from filename.
func recordFromMetadata(meta map[string]any, filename string, category Category) PluginRecord {
	rec := PluginRecord{
		ID:          stringField(meta, "id"),
		Name:        stringField(meta, "name"),
		Version:     stringField(meta, "version"),
		Icon:        stringField(meta, "icon"),
		Description: stringField(meta, "description"),
		Module:      stringField(meta, "module"),
		Category:    category,
	}
	if c := stringField(meta, "category"); c != "" && ValidCategory(Category(c)) {
		rec.Category = Category(c)
	}
	if rec.ID == "" {
		rec.ID = IDFromFilename(filename)
	}
	if reqs, ok := meta["requires"].([]any); ok {
		for _, r := range reqs {
			if s, ok := r.(string); ok && s != "" {
				rec.Requires = append(rec.Requires, s)
			}
		}
	}
	return rec
}

func stringField(meta map[string]any, key string) string {
	s, _ := meta[key].(string)
	return s
}
