package main

import (
	"fmt"
	"io"
	"os"

	"github.com/nihei9/urubu/grammar"
	"github.com/spf13/cobra"
)

var compileFlags = struct {
	kind   *string
	output *string
	pretty *bool
}{}

func init() {
	cmd := &cobra.Command{
		Use:     "compile [<source file path>]",
		Short:   "Compile a grammar source into the normalized form",
		Example: `  urubu compile -k json-schema schema.json -o grammar.json`,
		Args:    cobra.MaximumNArgs(1),
		RunE:    runCompile,
	}
	compileFlags.kind = cmd.Flags().StringP("kind", "k", "ebnf", "source kind (ebnf|json-schema|regex|structural-tag|builtin-json)")
	compileFlags.output = cmd.Flags().StringP("output", "o", "", "output file path (default stdout)")
	compileFlags.pretty = cmd.Flags().Bool("pretty", false, "print the grammar as EBNF text instead of JSON")
	rootCmd.AddCommand(cmd)
}

func runCompile(cmd *cobra.Command, args []string) error {
	src, err := readSource(args)
	if err != nil {
		return err
	}
	g, err := buildGrammar(*compileFlags.kind, src)
	if err != nil {
		return err
	}
	ng, err := grammar.Normalize(g)
	if err != nil {
		return err
	}

	var out []byte
	if *compileFlags.pretty {
		out = []byte(grammar.Print(ng))
	} else {
		out, err = grammar.Serialize(ng)
		if err != nil {
			return err
		}
		out = append(out, '\n')
	}

	w := io.Writer(os.Stdout)
	if *compileFlags.output != "" {
		f, err := os.OpenFile(*compileFlags.output, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return fmt.Errorf("Cannot write an output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	_, err = w.Write(out)
	return err
}

func readSource(args []string) ([]byte, error) {
	if len(args) > 0 {
		return os.ReadFile(args[0])
	}
	return io.ReadAll(os.Stdin)
}
