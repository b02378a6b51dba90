package jsonschema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Options selects the JSON serialization style the generated grammar
// enforces.
type Options struct {
	// Indent is the number of spaces per nesting level. nil selects the
	// compact single-line style.
	Indent *int

	// ItemSeparator and KeySeparator override the separators of the
	// compact style. The defaults are ", " and ": ".
	ItemSeparator string
	KeySeparator  string

	// StrictMode forbids object properties and array items the schema
	// does not mention. When false, unmentioned members are allowed and
	// match any JSON value.
	StrictMode bool

	// AnyWhitespace accepts arbitrary blank runs between tokens instead
	// of a fixed formatting.
	AnyWhitespace bool
}

// ToEBNF translates a schema document into grammar source rooted at the
// rule "root". The boolean result reports whether any schema feature was
// beyond the translator and degraded to a permissive sub-grammar.
func ToEBNF(src []byte, opts Options) (string, bool, error) {
	s, err := Decode(src)
	if err != nil {
		return "", false, err
	}
	if opts.ItemSeparator == "" {
		opts.ItemSeparator = ", "
	}
	if opts.KeySeparator == "" {
		opts.KeySeparator = ": "
	}
	c := &converter{
		opts:     opts,
		root:     s,
		used:     map[string]struct{}{},
		refCache: map[string]string{},
	}
	c.emitBasicRules()
	// A top-level $ref resolves to the referenced rule's own name, so alias
	// it to keep the grammar rooted at "root".
	if name := c.visit(s, "root", 0); name != "root" {
		c.rules = append(c.rules, rule{name: "root", body: name})
	}

	var b strings.Builder
	for _, r := range c.rules {
		b.WriteString(r.name)
		b.WriteString(" ::= ")
		b.WriteString(r.body)
		b.WriteString("\n")
	}
	return b.String(), c.flagged, nil
}

type rule struct {
	name string
	body string
}

type converter struct {
	opts     Options
	root     *Schema
	rules    []rule
	used     map[string]struct{}
	refCache map[string]string
	flagged  bool
}

// permissive falls back to the any-value grammar and raises the flag.
func (c *converter) permissive() string {
	c.flagged = true
	return "basic_any"
}

func (c *converter) addRule(hint, body string) string {
	name := hint
	for i := 1; ; i++ {
		if _, ok := c.used[name]; !ok {
			break
		}
		name = fmt.Sprintf("%v_%v", hint, i)
	}
	c.used[name] = struct{}{}
	c.rules = append(c.rules, rule{name: name, body: body})
	return name
}

// reserve claims a rule name before its body is known, for recursive
// references.
func (c *converter) reserve(hint string) string {
	name := hint
	for i := 1; ; i++ {
		if _, ok := c.used[name]; !ok {
			break
		}
		name = fmt.Sprintf("%v_%v", hint, i)
	}
	c.used[name] = struct{}{}
	c.rules = append(c.rules, rule{name: name})
	return name
}

func (c *converter) fill(name, body string) {
	for i := range c.rules {
		if c.rules[i].name == name {
			c.rules[i].body = body
			return
		}
	}
}

func (c *converter) emitBasicRules() {
	ws := "[ \\n\\t]*"
	basics := []rule{
		{"basic_any", "basic_object | basic_array | basic_string | basic_number | basic_boolean | basic_null"},
		{"basic_object", `"{" ` + ws + ` ("}" | basic_member (` + ws + ` "," ` + ws + ` basic_member)* ` + ws + ` "}")`},
		{"basic_member", "basic_string " + ws + ` ":" ` + ws + " basic_any"},
		{"basic_array", `"[" ` + ws + ` ("]" | basic_any (` + ws + ` "," ` + ws + ` basic_any)* ` + ws + ` "]")`},
		{"basic_string", `"\"" basic_char* "\""`},
		{"basic_char", `[^"\\\0-\x1f] | "\\" basic_escape`},
		{"basic_escape", `["\\/bfnrt] | "u" [0-9a-fA-F] [0-9a-fA-F] [0-9a-fA-F] [0-9a-fA-F]`},
		{"basic_number", `"-"? basic_int_part basic_frac? basic_exp?`},
		{"basic_int_part", `"0" | [1-9] [0-9]*`},
		{"basic_frac", `"." [0-9]+`},
		{"basic_exp", `[eE] [+\-]? [0-9]+`},
		{"basic_integer", `"-"? basic_int_part`},
		{"basic_boolean", `"true" | "false"`},
		{"basic_null", `"null"`},
	}
	for _, r := range basics {
		c.used[r.name] = struct{}{}
		c.rules = append(c.rules, r)
	}
}

// visit generates the rule for a schema node and returns its name.
func (c *converter) visit(s *Schema, hint string, depth int) string {
	if s.Ref != "" {
		return c.visitRef(s.Ref, depth)
	}
	name := c.reserve(hint)
	c.fill(name, c.body(s, name, depth))
	return name
}

func (c *converter) visitRef(ref string, depth int) string {
	if name, ok := c.refCache[ref]; ok {
		return name
	}
	var target *Schema
	var hint string
	switch {
	case ref == "#":
		target = c.root
		hint = "root_ref"
	case strings.HasPrefix(ref, "#/$defs/"):
		target = c.root.Defs[strings.TrimPrefix(ref, "#/$defs/")]
		hint = "defs_" + sanitize(strings.TrimPrefix(ref, "#/$defs/"))
	case strings.HasPrefix(ref, "#/definitions/"):
		target = c.root.Definitions[strings.TrimPrefix(ref, "#/definitions/")]
		hint = "defs_" + sanitize(strings.TrimPrefix(ref, "#/definitions/"))
	}
	if target == nil {
		return c.permissive()
	}
	name := c.reserve(hint)
	c.refCache[ref] = name
	c.fill(name, c.body(target, name, depth))
	return name
}

func (c *converter) body(s *Schema, name string, depth int) string {
	if len(s.Enum) > 0 {
		var alts []string
		for _, e := range s.Enum {
			alts = append(alts, c.literal(e))
		}
		return strings.Join(alts, " | ")
	}
	if len(s.Const) > 0 {
		return c.literal(s.Const)
	}
	if len(s.AllOf) == 1 {
		merged := mergeAllOf(s, s.AllOf[0])
		if merged.Ref != "" {
			return c.visitRef(merged.Ref, depth)
		}
		return c.body(merged, name, depth)
	}
	if len(s.AllOf) > 1 {
		// General schema intersection is beyond the translator.
		return c.permissive()
	}
	if len(s.AnyOf) > 0 || len(s.OneOf) > 0 {
		subs := s.AnyOf
		if len(subs) == 0 {
			subs = s.OneOf
		}
		var alts []string
		for i, sub := range subs {
			alts = append(alts, c.visit(sub, fmt.Sprintf("%v_case_%v", name, i), depth))
		}
		return strings.Join(alts, " | ")
	}

	types := s.Types
	if len(types) == 0 {
		switch {
		case len(s.Properties) > 0 || s.AdditionalProperties != nil:
			types = typeUnion{"object"}
		case len(s.PrefixItems) > 0 || s.Items != nil:
			types = typeUnion{"array"}
		default:
			return "basic_any"
		}
	}
	var alts []string
	for _, t := range types {
		alts = append(alts, c.typed(s, t, name, depth))
	}
	return strings.Join(alts, " | ")
}

func (c *converter) typed(s *Schema, typ, name string, depth int) string {
	switch typ {
	case "null":
		return "basic_null"
	case "boolean":
		return "basic_boolean"
	case "integer":
		if s.Minimum != nil || s.Maximum != nil {
			c.flagged = true
		}
		return "basic_integer"
	case "number":
		if s.Minimum != nil || s.Maximum != nil {
			c.flagged = true
		}
		return "basic_number"
	case "string":
		return c.stringBody(s)
	case "object":
		return c.objectBody(s, name, depth)
	case "array":
		return c.arrayBody(s, name, depth)
	default:
		return c.permissive()
	}
}

func (c *converter) stringBody(s *Schema) string {
	if s.Pattern != "" || s.Format != "" {
		c.flagged = true
		return "basic_string"
	}
	if s.MinLength == nil && s.MaxLength == nil {
		return "basic_string"
	}
	lo := 0
	if s.MinLength != nil {
		lo = *s.MinLength
	}
	if s.MaxLength != nil {
		return fmt.Sprintf(`"\"" basic_char{%v,%v} "\""`, lo, *s.MaxLength)
	}
	return fmt.Sprintf(`"\"" basic_char{%v,} "\""`, lo)
}

func (c *converter) objectBody(s *Schema, name string, depth int) string {
	required := map[string]bool{}
	for _, r := range s.Required {
		required[r] = true
	}
	var additional *Schema
	if s.AdditionalProperties != nil {
		additional = s.AdditionalProperties.Schema
	} else if !c.opts.StrictMode {
		additional = &Schema{}
	}

	type member struct {
		expr     string
		required bool
	}
	var members []member
	for i, p := range s.Properties {
		val := c.visit(p, fmt.Sprintf("%v_prop_%v", name, i), depth+1)
		key, _ := json.Marshal(p.Name)
		members = append(members, member{
			expr:     c.quote(string(key)) + " " + c.keySep() + " " + val,
			required: required[p.Name],
		})
	}
	var addExpr string
	if additional != nil {
		val := c.visit(additional, name+"_addl", depth+1)
		addExpr = "basic_string " + c.keySep() + " " + val
	}

	// tail(i) matches members i.. assuming one member was already emitted,
	// each preceded by the item separator.
	sep := c.itemSep(depth + 1)
	tail := make([]string, len(members)+1)
	if addExpr != "" {
		tail[len(members)] = "(" + sep + " " + addExpr + ")*"
	}
	for i := len(members) - 1; i >= 0; i-- {
		part := sep + " " + members[i].expr
		if !members[i].required {
			part = "(" + part + ")?"
		} else {
			part = "(" + part + ")"
		}
		tail[i] = strings.TrimSpace(part + " " + tail[i+1])
	}

	// The first member present may be any member whose predecessors are
	// all optional.
	var alts []string
	for i, m := range members {
		alts = append(alts, strings.TrimSpace(m.expr+" "+tail[i+1]))
		if m.required {
			break
		}
	}
	allOptional := true
	for _, m := range members {
		if m.required {
			allOptional = false
			break
		}
	}
	if allOptional && addExpr != "" {
		alts = append(alts, strings.TrimSpace(addExpr+" "+tail[len(members)]))
	}

	empty := `"{}"`
	if c.opts.AnyWhitespace {
		empty = `"{" [ \n\t]* "}"`
	}
	if len(alts) == 0 {
		return empty
	}
	nonempty := `"{" ` + c.wsOpen(depth+1) + "(" + strings.Join(alts, " | ") + ") " + c.wsClose(depth) + `"}"`
	if allOptional {
		return nonempty + " | " + empty
	}
	return nonempty
}

func (c *converter) arrayBody(s *Schema, name string, depth int) string {
	var itemExpr string
	if s.Items != nil && s.Items.Schema != nil {
		itemExpr = c.visit(s.Items.Schema, name+"_item", depth+1)
	} else if s.Items == nil && !c.opts.StrictMode {
		itemExpr = "basic_any"
	}

	sep := c.itemSep(depth + 1)
	empty := `"[]"`
	if c.opts.AnyWhitespace {
		empty = `"[" [ \n\t]* "]"`
	}

	if len(s.PrefixItems) > 0 {
		var parts []string
		for i, p := range s.PrefixItems {
			expr := c.visit(p, fmt.Sprintf("%v_tuple_%v", name, i), depth+1)
			if i > 0 {
				parts = append(parts, sep)
			}
			parts = append(parts, expr)
		}
		if itemExpr != "" {
			parts = append(parts, "("+sep+" "+itemExpr+")*")
		}
		return `"[" ` + c.wsOpen(depth+1) + strings.Join(parts, " ") + " " + c.wsClose(depth) + `"]"`
	}

	if itemExpr == "" {
		return empty
	}
	lo := 0
	hi := -1
	if s.MinItems != nil {
		lo = *s.MinItems
	}
	if s.MaxItems != nil {
		hi = *s.MaxItems
	}
	if hi == 0 {
		return empty
	}
	rest := ""
	switch {
	case lo <= 1 && hi == -1:
		rest = "(" + sep + " " + itemExpr + ")*"
	case hi == -1:
		rest = fmt.Sprintf("(%v %v){%v,}", sep, itemExpr, lo-1)
	default:
		min := lo - 1
		if min < 0 {
			min = 0
		}
		rest = fmt.Sprintf("(%v %v){%v,%v}", sep, itemExpr, min, hi-1)
	}
	nonempty := `"[" ` + c.wsOpen(depth+1) + itemExpr + " " + rest + " " + c.wsClose(depth) + `"]"`
	if lo == 0 {
		return nonempty + " | " + empty
	}
	return nonempty
}

// mergeAllOf combines a schema with its single allOf element. Keywords set
// on the outer schema win; required lists are unioned. A chained allOf on
// the element is carried over so it is merged on the next visit.
func mergeAllOf(outer, inner *Schema) *Schema {
	m := *outer
	m.AllOf = inner.AllOf
	if len(m.Types) == 0 {
		m.Types = inner.Types
	}
	if len(m.Properties) == 0 {
		m.Properties = inner.Properties
	}
	m.Required = append(append([]string{}, outer.Required...), inner.Required...)
	if m.AdditionalProperties == nil {
		m.AdditionalProperties = inner.AdditionalProperties
	}
	if m.Items == nil {
		m.Items = inner.Items
	}
	if len(m.PrefixItems) == 0 {
		m.PrefixItems = inner.PrefixItems
	}
	if m.MinItems == nil {
		m.MinItems = inner.MinItems
	}
	if m.MaxItems == nil {
		m.MaxItems = inner.MaxItems
	}
	if m.MinLength == nil {
		m.MinLength = inner.MinLength
	}
	if m.MaxLength == nil {
		m.MaxLength = inner.MaxLength
	}
	if m.Pattern == "" {
		m.Pattern = inner.Pattern
	}
	if m.Format == "" {
		m.Format = inner.Format
	}
	if m.Minimum == nil {
		m.Minimum = inner.Minimum
	}
	if m.Maximum == nil {
		m.Maximum = inner.Maximum
	}
	if len(m.AnyOf) == 0 {
		m.AnyOf = inner.AnyOf
	}
	if len(m.OneOf) == 0 {
		m.OneOf = inner.OneOf
	}
	if len(m.Enum) == 0 {
		m.Enum = inner.Enum
	}
	if len(m.Const) == 0 {
		m.Const = inner.Const
	}
	if m.Ref == "" {
		m.Ref = inner.Ref
	}
	return &m
}

// literal renders a constant JSON value as the exact text to match.
func (c *converter) literal(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return c.permissive()
	}
	return c.quote(buf.String())
}

func (c *converter) wsOpen(depth int) string {
	if c.opts.AnyWhitespace {
		return "[ \\n\\t]* "
	}
	if c.opts.Indent == nil {
		return ""
	}
	return c.quote("\n"+strings.Repeat(" ", depth**c.opts.Indent)) + " "
}

func (c *converter) wsClose(depth int) string {
	if c.opts.AnyWhitespace {
		return "[ \\n\\t]* "
	}
	if c.opts.Indent == nil {
		return ""
	}
	return c.quote("\n"+strings.Repeat(" ", depth**c.opts.Indent)) + " "
}

func (c *converter) itemSep(depth int) string {
	if c.opts.AnyWhitespace {
		return `[ \n\t]* "," [ \n\t]*`
	}
	if c.opts.Indent == nil {
		return c.quote(c.opts.ItemSeparator)
	}
	return c.quote(strings.TrimRight(c.opts.ItemSeparator, " ") + "\n" + strings.Repeat(" ", depth**c.opts.Indent))
}

func (c *converter) keySep() string {
	if c.opts.AnyWhitespace {
		return `[ \n\t]* ":" [ \n\t]*`
	}
	return c.quote(c.opts.KeySeparator)
}

// quote renders s as a grammar string literal.
func (c *converter) quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(&b, `\x%02x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}

func sanitize(s string) string {
	if s == "" {
		return "x"
	}
	var b strings.Builder
	for _, r := range s {
		if r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
