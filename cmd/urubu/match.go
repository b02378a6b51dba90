package main

import (
	"fmt"
	"io"
	"os"

	"github.com/nihei9/urubu/matcher"
	"github.com/nihei9/urubu/vocab"
	"github.com/spf13/cobra"
)

var matchFlags = struct {
	kind   *string
	source *string
}{}

func init() {
	cmd := &cobra.Command{
		Use:     "match <grammar source file path>",
		Short:   "Match a text against a grammar",
		Example: `  cat doc.json | urubu match -k json-schema schema.json`,
		Args:    cobra.ExactArgs(1),
		RunE:    runMatch,
	}
	matchFlags.kind = cmd.Flags().StringP("kind", "k", "ebnf", "source kind (ebnf|json-schema|regex|structural-tag|builtin-json)")
	matchFlags.source = cmd.Flags().StringP("source", "s", "", "text file path (default stdin)")
	rootCmd.AddCommand(cmd)
}

func runMatch(cmd *cobra.Command, args []string) error {
	src, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	g, err := buildGrammar(*matchFlags.kind, src)
	if err != nil {
		return err
	}

	var text []byte
	if *matchFlags.source != "" {
		text, err = os.ReadFile(*matchFlags.source)
	} else {
		text, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return err
	}

	// A byte-level vocabulary is enough to drive the matcher from the CLI:
	// one token per byte value plus a stop token.
	tokens := make([][]byte, 257)
	for i := 0; i < 256; i++ {
		tokens[i] = []byte{byte(i)}
	}
	tokens[256] = nil
	v, err := vocab.New(tokens, []int32{256})
	if err != nil {
		return err
	}
	cg, err := matcher.Compile(g, v)
	if err != nil {
		return err
	}
	m, err := matcher.NewMatcher(cg)
	if err != nil {
		return err
	}

	for i, b := range text {
		ok, err := m.AcceptBytes([]byte{b})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("the text does not match the grammar: byte %v (%q) is not acceptable", i, string(rune(b)))
		}
	}
	ok, err := m.AcceptToken(256)
	if err != nil {
		return err
	}
	if !ok {
		jump, jerr := m.FindJumpForwardString()
		if jerr == nil && jump != "" {
			return fmt.Errorf("the text is an incomplete match; the grammar forces %q next", jump)
		}
		return fmt.Errorf("the text is an incomplete match")
	}
	fmt.Fprintln(os.Stdout, "matched")
	return nil
}
