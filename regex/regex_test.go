package regex

import (
	"testing"

	verr "github.com/nihei9/urubu/error"
)

func TestParse_Accepts(t *testing.T) {
	tests := []struct {
		pattern  string
		accepted []string
		rejected []string
	}{
		{
			pattern:  "abc",
			accepted: []string{"abc"},
			rejected: []string{"", "ab", "abcd"},
		},
		{
			pattern:  "ab?c",
			accepted: []string{"ac", "abc"},
			rejected: []string{"abbc", "bc"},
		},
		{
			pattern:  "a|bc|",
			accepted: []string{"a", "bc", ""},
			rejected: []string{"b", "abc"},
		},
		{
			pattern:  "(ab)+",
			accepted: []string{"ab", "ababab"},
			rejected: []string{"", "aba"},
		},
		{
			pattern:  "a{2,3}",
			accepted: []string{"aa", "aaa"},
			rejected: []string{"a", "aaaa"},
		},
		{
			pattern:  "a{2,}",
			accepted: []string{"aa", "aaaaa"},
			rejected: []string{"", "a"},
		},
		{
			pattern:  "a{0}",
			accepted: []string{""},
			rejected: []string{"a"},
		},
		{
			pattern:  "[a-c]*",
			accepted: []string{"", "abcba"},
			rejected: []string{"d"},
		},
		{
			pattern:  "[^a-c]",
			accepted: []string{"d", "z", "é"},
			rejected: []string{"a", "", "dd"},
		},
		{
			pattern:  `\d+`,
			accepted: []string{"0", "42"},
			rejected: []string{"", "4a"},
		},
		{
			pattern:  `\w`,
			accepted: []string{"a", "Z", "0", "_"},
			rejected: []string{"-", " "},
		},
		{
			pattern:  ".",
			accepted: []string{"a", " ", "é"},
			rejected: []string{"", "\n", "ab"},
		},
		{
			pattern:  `a\.b`,
			accepted: []string{"a.b"},
			rejected: []string{"axb"},
		},
		{
			pattern:  `\x41B`,
			accepted: []string{"AB"},
			rejected: []string{"ab"},
		},
		{
			pattern:  "(a|b)(c|d)",
			accepted: []string{"ac", "ad", "bc", "bd"},
			rejected: []string{"ab", "cd"},
		},
		{
			pattern:  "[]a]",
			accepted: []string{"]", "a"},
			rejected: []string{"["},
		},
		{
			pattern:  "^abc$",
			accepted: []string{"abc"},
			rejected: []string{"", "xabc"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			re, err := Parse(tt.pattern)
			if err != nil {
				t.Fatal(err)
			}
			for _, s := range tt.accepted {
				if !re.Body.AcceptsString(s) {
					t.Errorf("%q should be accepted", s)
				}
			}
			for _, s := range tt.rejected {
				if re.Body.AcceptsString(s) {
					t.Errorf("%q should be rejected", s)
				}
			}
		})
	}
}

func TestParse_Lookahead(t *testing.T) {
	re, err := Parse("abc(?=xyz)")
	if err != nil {
		t.Fatal(err)
	}
	if re.Lookahead == nil {
		t.Fatal("the lookahead was dropped")
	}
	if !re.Body.AcceptsString("abc") {
		t.Fatal("the body should accept the text before the lookahead")
	}
	if !re.Lookahead.AcceptsString("xyz") {
		t.Fatal("the lookahead automaton should accept its own pattern")
	}
}

func TestParse_Errors(t *testing.T) {
	patterns := []string{
		"(",
		"(ab",
		")",
		"*a",
		"+",
		"a{2,1}",
		"[",
		"[z-a]",
		`\x4`,
		"a(?=b)c",
		"(?=a)(?=b)",
	}
	for _, p := range patterns {
		t.Run(p, func(t *testing.T) {
			_, err := Parse(p)
			if err == nil {
				t.Fatal("expect an error")
			}
			if verr.KindOf(err) != verr.KindParse {
				t.Fatalf("unexpected error kind: %v", verr.KindOf(err))
			}
		})
	}
}
