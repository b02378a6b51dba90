package compiler_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nihei9/urubu/compiler"
	verr "github.com/nihei9/urubu/error"
	"github.com/nihei9/urubu/matcher"
	"github.com/nihei9/urubu/vocab"
)

func byteVocab(t *testing.T) *vocab.Table {
	t.Helper()
	tokens := make([][]byte, 257)
	for i := 0; i < 256; i++ {
		tokens[i] = []byte{byte(i)}
	}
	v, err := vocab.New(tokens, []int32{256})
	require.NoError(t, err)
	return v
}

func TestCompiler_CacheIdentity(t *testing.T) {
	c := compiler.New(byteVocab(t))

	cg1, err := c.CompileEBNF(`root ::= "ab"`, "root")
	require.NoError(t, err)
	cg2, err := c.CompileEBNF(`root ::= "ab"`, "root")
	require.NoError(t, err)
	require.Same(t, cg1, cg2)
	require.Equal(t, 1, c.CacheSize())

	cg3, err := c.CompileEBNF(`root ::= "cd"`, "root")
	require.NoError(t, err)
	require.NotSame(t, cg1, cg3)
	require.Equal(t, 2, c.CacheSize())

	// The same text compiled as a different kind is a different entry.
	cg4, err := c.CompileRegex("ab")
	require.NoError(t, err)
	require.NotSame(t, cg1, cg4)
	require.Equal(t, 3, c.CacheSize())

	c.Clear()
	require.Equal(t, 0, c.CacheSize())
	cg5, err := c.CompileEBNF(`root ::= "ab"`, "root")
	require.NoError(t, err)
	require.NotSame(t, cg1, cg5)
}

func TestCompiler_SchemaOptionsKeyTheCache(t *testing.T) {
	c := compiler.New(byteVocab(t))
	schema := []byte(`{"type": "object", "properties": {"a": {"type": "integer"}}}`)

	cg1, err := c.CompileJSONSchema(schema)
	require.NoError(t, err)
	cg2, err := c.CompileJSONSchema(schema)
	require.NoError(t, err)
	require.Same(t, cg1, cg2)

	cg3, err := c.CompileJSONSchema(schema, compiler.WithIndent(2))
	require.NoError(t, err)
	require.NotSame(t, cg1, cg3)

	cg4, err := c.CompileJSONSchema(schema, compiler.WithStrictMode(false))
	require.NoError(t, err)
	require.NotSame(t, cg1, cg4)
	require.Equal(t, 3, c.CacheSize())
}

func TestCompiler_ErrorsAreNotCached(t *testing.T) {
	c := compiler.New(byteVocab(t))

	_, err := c.CompileEBNF(`root ::=`, "root")
	require.Error(t, err)
	require.Equal(t, verr.KindParse, verr.KindOf(err))
	require.Equal(t, 0, c.CacheSize())

	_, err = c.CompileRegex("(")
	require.Error(t, err)
	require.Equal(t, 0, c.CacheSize())

	_, err = c.Compile(compiler.Request{Kind: compiler.SourceKind(99)})
	require.Error(t, err)
	require.Equal(t, verr.KindValidation, verr.KindOf(err))
}

func TestCompiler_ConcurrentRequestsShareOneResult(t *testing.T) {
	c := compiler.New(byteVocab(t))

	const workers = 8
	results := make([]*matcher.CompiledGrammar, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cg, err := c.CompileEBNF(`root ::= [0-9]+`, "root")
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = cg
		}(i)
	}
	wg.Wait()
	for i := 1; i < workers; i++ {
		require.Same(t, results[0], results[i])
	}
	require.Equal(t, 1, c.CacheSize())
}

func TestCompiler_Warm(t *testing.T) {
	c := compiler.New(byteVocab(t))
	err := c.Warm(context.Background(),
		compiler.EBNFRequest(`root ::= "a"`, ""),
		compiler.RegexRequest("[a-z]+"),
		compiler.BuiltinJSONRequest(),
	)
	require.NoError(t, err)
	require.Equal(t, 3, c.CacheSize())

	// Warmed requests resolve from the cache.
	cg1, err := c.CompileRegex("[a-z]+")
	require.NoError(t, err)
	cg2, err := c.CompileRegex("[a-z]+")
	require.NoError(t, err)
	require.Same(t, cg1, cg2)
}

func TestCompiler_WarmStopsOnError(t *testing.T) {
	c := compiler.New(byteVocab(t))
	err := c.Warm(context.Background(),
		compiler.EBNFRequest(`root ::= "a"`, ""),
		compiler.RegexRequest("("),
	)
	require.Error(t, err)
}

func TestCompiler_BuiltinJSON(t *testing.T) {
	c := compiler.New(byteVocab(t))
	cg, err := c.CompileBuiltinJSON()
	require.NoError(t, err)

	m, err := matcher.NewMatcher(cg)
	require.NoError(t, err)
	ok, err := m.AcceptBytes([]byte(`{"list": [1, 2.5, true, null], "s": "hi"}`))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = m.AcceptToken(256)
	require.NoError(t, err)
	require.True(t, ok)
}
