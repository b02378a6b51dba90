// Package compiler turns grammar sources of several flavors into compiled
// grammars ready for matching, with a cache so each distinct source is
// compiled at most once per vocabulary.
package compiler

import (
	"fmt"
	"sync"

	"github.com/cnf/structhash"
	verr "github.com/nihei9/urubu/error"
	"github.com/nihei9/urubu/grammar"
	"github.com/nihei9/urubu/grammar/parser"
	"github.com/nihei9/urubu/jsonschema"
	"github.com/nihei9/urubu/matcher"
	"github.com/nihei9/urubu/regex"
	"github.com/nihei9/urubu/structag"
	"github.com/nihei9/urubu/vocab"
	"github.com/npillmayer/schuko/tracing"
	"golang.org/x/sync/singleflight"
)

func tracer() tracing.Trace {
	return tracing.Select("urubu.compiler")
}

type SourceKind int

const (
	SourceEBNF SourceKind = iota
	SourceJSONSchema
	SourceRegex
	SourceStructuralTag
	SourceBuiltinJSON
)

func (k SourceKind) String() string {
	switch k {
	case SourceEBNF:
		return "ebnf"
	case SourceJSONSchema:
		return "json schema"
	case SourceRegex:
		return "regex"
	case SourceStructuralTag:
		return "structural tag"
	case SourceBuiltinJSON:
		return "builtin json"
	}
	return "unknown"
}

// Request is one compilable source plus everything that affects the result.
// Its field values, hashed together, form the cache key.
type Request struct {
	Kind     SourceKind
	Source   string
	RootRule string
	Schema   jsonschema.Options
}

func EBNFRequest(src, rootRule string) Request {
	if rootRule == "" {
		rootRule = "root"
	}
	return Request{Kind: SourceEBNF, Source: src, RootRule: rootRule}
}

// JSONSchemaOption adjusts the JSON serialization style a schema grammar
// enforces. The defaults are strict mode with arbitrary whitespace.
type JSONSchemaOption func(*jsonschema.Options)

func WithIndent(n int) JSONSchemaOption {
	return func(o *jsonschema.Options) {
		o.Indent = &n
		o.AnyWhitespace = false
	}
}

func WithSeparators(item, key string) JSONSchemaOption {
	return func(o *jsonschema.Options) {
		o.ItemSeparator = item
		o.KeySeparator = key
	}
}

func WithStrictMode(strict bool) JSONSchemaOption {
	return func(o *jsonschema.Options) {
		o.StrictMode = strict
	}
}

func WithAnyWhitespace(any bool) JSONSchemaOption {
	return func(o *jsonschema.Options) {
		o.AnyWhitespace = any
	}
}

func JSONSchemaRequest(schema []byte, opts ...JSONSchemaOption) Request {
	o := jsonschema.Options{
		StrictMode:    true,
		AnyWhitespace: true,
	}
	for _, f := range opts {
		f(&o)
	}
	return Request{Kind: SourceJSONSchema, Source: string(schema), Schema: o}
}

func RegexRequest(pattern string) Request {
	return Request{Kind: SourceRegex, Source: pattern}
}

func StructuralTagRequest(src []byte) Request {
	return Request{Kind: SourceStructuralTag, Source: string(src)}
}

func BuiltinJSONRequest() Request {
	return Request{Kind: SourceBuiltinJSON}
}

// Compiler compiles grammar sources against one fixed vocabulary. It is safe
// for concurrent use; concurrent requests for the same source share a single
// compilation.
type Compiler struct {
	vocab *vocab.Table
	mu    sync.RWMutex
	cache map[string]*matcher.CompiledGrammar
	group singleflight.Group
}

func New(v *vocab.Table) *Compiler {
	return &Compiler{
		vocab: v,
		cache: map[string]*matcher.CompiledGrammar{},
	}
}

func (c *Compiler) CompileEBNF(src, rootRule string) (*matcher.CompiledGrammar, error) {
	return c.Compile(EBNFRequest(src, rootRule))
}

func (c *Compiler) CompileJSONSchema(schema []byte, opts ...JSONSchemaOption) (*matcher.CompiledGrammar, error) {
	return c.Compile(JSONSchemaRequest(schema, opts...))
}

func (c *Compiler) CompileRegex(pattern string) (*matcher.CompiledGrammar, error) {
	return c.Compile(RegexRequest(pattern))
}

func (c *Compiler) CompileStructuralTag(src []byte) (*matcher.CompiledGrammar, error) {
	return c.Compile(StructuralTagRequest(src))
}

func (c *Compiler) CompileBuiltinJSON() (*matcher.CompiledGrammar, error) {
	return c.Compile(BuiltinJSONRequest())
}

// Compile resolves a request through the cache. A cache miss compiles the
// source exactly once even under concurrent identical requests.
func (c *Compiler) Compile(req Request) (*matcher.CompiledGrammar, error) {
	key := fmt.Sprintf("%x", structhash.Sha1(req, 1))
	c.mu.RLock()
	cg, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		tracer().Debugf("cache hit for %v source", req.Kind)
		return cg, nil
	}
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		c.mu.RLock()
		cg, ok := c.cache[key]
		c.mu.RUnlock()
		if ok {
			return cg, nil
		}
		cg, err := c.compile(req)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cache[key] = cg
		c.mu.Unlock()
		return cg, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*matcher.CompiledGrammar), nil
}

func (c *Compiler) compile(req Request) (*matcher.CompiledGrammar, error) {
	g, err := c.buildGrammar(req)
	if err != nil {
		return nil, err
	}
	return matcher.Compile(g, c.vocab)
}

func (c *Compiler) buildGrammar(req Request) (*grammar.Grammar, error) {
	switch req.Kind {
	case SourceEBNF:
		return parser.Parse(req.Source, req.RootRule)
	case SourceJSONSchema:
		src, flagged, err := jsonschema.ToEBNF([]byte(req.Source), req.Schema)
		if err != nil {
			return nil, err
		}
		if flagged {
			tracer().Infof("schema uses unsupported features; parts of the grammar are permissive")
		}
		return parser.Parse(src, "root")
	case SourceRegex:
		re, err := regex.Parse(req.Source)
		if err != nil {
			return nil, err
		}
		return re.ToGrammar("root")
	case SourceStructuralTag:
		f, err := structag.Parse([]byte(req.Source))
		if err != nil {
			return nil, err
		}
		return structag.ToGrammar(f)
	case SourceBuiltinJSON:
		return parser.Parse(grammar.BuiltinJSONEBNF(), "root")
	}
	return nil, verr.New(verr.KindValidation, "unknown source kind %v", int(req.Kind))
}

// Clear drops every cached grammar.
func (c *Compiler) Clear() {
	c.mu.Lock()
	c.cache = map[string]*matcher.CompiledGrammar{}
	c.mu.Unlock()
}

// CacheSize reports the number of cached grammars.
func (c *Compiler) CacheSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}
