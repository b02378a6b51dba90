package main

import (
	"fmt"
	"os"

	"github.com/nihei9/urubu/grammar"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:     "show <compiled grammar file path>",
		Short:   "Print a serialized grammar as EBNF text",
		Example: `  urubu show grammar.json`,
		Args:    cobra.ExactArgs(1),
		RunE:    runShow,
	}
	rootCmd.AddCommand(cmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	src, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	g, err := grammar.Deserialize(src)
	if err != nil {
		return err
	}
	fmt.Fprint(os.Stdout, grammar.Print(g))
	return nil
}
