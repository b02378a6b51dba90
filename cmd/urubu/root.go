package main

import (
	"fmt"
	"os"

	"github.com/nihei9/urubu/grammar"
	"github.com/nihei9/urubu/grammar/parser"
	"github.com/nihei9/urubu/jsonschema"
	"github.com/nihei9/urubu/regex"
	"github.com/nihei9/urubu/structag"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "urubu",
	Short: "Compile constrained-decoding grammars and match text against them",
	Long: `urubu compiles grammars of several flavors (EBNF, JSON schema, regex,
structural tags) into a normalized form and matches text against them.
The match feature is primarily aimed at debugging a grammar.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return err
	}
	return nil
}

// buildGrammar turns a source of the given kind into a grammar AST.
func buildGrammar(kind string, src []byte) (*grammar.Grammar, error) {
	switch kind {
	case "ebnf":
		return parser.Parse(string(src), "root")
	case "json-schema":
		ebnf, flagged, err := jsonschema.ToEBNF(src, jsonschema.Options{
			StrictMode:    true,
			AnyWhitespace: true,
		})
		if err != nil {
			return nil, err
		}
		if flagged {
			fmt.Fprintln(os.Stderr, "warning: the schema uses unsupported features; parts of the grammar are permissive")
		}
		return parser.Parse(ebnf, "root")
	case "regex":
		re, err := regex.Parse(string(src))
		if err != nil {
			return nil, err
		}
		return re.ToGrammar("root")
	case "structural-tag":
		f, err := structag.Parse(src)
		if err != nil {
			return nil, err
		}
		return structag.ToGrammar(f)
	case "builtin-json":
		return parser.Parse(grammar.BuiltinJSONEBNF(), "root")
	}
	return nil, fmt.Errorf("unknown source kind: %v", kind)
}
