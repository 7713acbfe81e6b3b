// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"abc", "abc", 0},
		{"abc", "abd", 1}, // substitution
		{"abc", "ab", 1},  // deletion
		{"ab", "abc", 1},  // insertion
		{"abc", "bac", 2}, // transposition counts as two edits
		{"kitten", "sitting", 3},
		{"ingest", "ingets", 2},
		{"limits", "limts", 1},
		{"status", "statsu", 2},
		{"reference", "refernce", 1},
	}

	for _, test := range tests {
		t.Run(test.a+"/"+test.b, func(t *testing.T) {
			got := levenshtein(test.a, test.b)
			if got != test.want {
				t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
			}
		})
	}
}

func TestLevenshteinSymmetric(t *testing.T) {
	pairs := [][2]string{
		{"abc", "abd"},
		{"ingest", "ingets"},
		{"capsule", "capslue"},
	}

	for _, pair := range pairs {
		forward := levenshtein(pair[0], pair[1])
		reverse := levenshtein(pair[1], pair[0])
		if forward != reverse {
			t.Errorf("levenshtein(%q, %q) = %d, but reverse = %d",
				pair[0], pair[1], forward, reverse)
		}
	}
}

func TestSuggestCommand(t *testing.T) {
	commands := []*Command{
		{Name: "ingest"},
		{Name: "reference"},
		{Name: "get"},
		{Name: "limits"},
		{Name: "status"},
		{Name: "version"},
	}

	tests := []struct {
		input string
		want  string
	}{
		{"ingets", "ingest"},      // transposition
		{"limts", "limits"},       // missing letter
		{"statuss", "status"},     // extra letter
		{"referennce", "reference"},
		{"vrsion", "version"},
		{"gte", "get"},
		{"zzzzzzzzz", ""}, // nothing close
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			got := suggestCommand(test.input, commands)
			if got != test.want {
				t.Errorf("suggestCommand(%q) = %q, want %q", test.input, got, test.want)
			}
		})
	}
}

func TestSuggestFlag(t *testing.T) {
	makeFlagSet := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
		flagSet.String("content-type", "", "")
		flagSet.String("socket", "", "")
		flagSet.String("key", "", "")
		flagSet.Bool("json", false, "")
		return flagSet
	}

	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "close typo with double dash",
			args: []string{"--sokcet"},
			want: "--socket",
		},
		{
			name: "close typo with single dash",
			args: []string{"-sokcet"},
			want: "--socket",
		},
		{
			name: "content-type typo",
			args: []string{"--content-tpye"},
			want: "--content-type",
		},
		{
			name: "json typo",
			args: []string{"--josn"},
			want: "--json",
		},
		{
			name: "nothing close",
			args: []string{"--zzzzzzzzz"},
			want: "",
		},
		{
			name: "no flags",
			args: []string{"positional"},
			want: "",
		},
		{
			name: "stdin dash is not a flag",
			args: []string{"-"},
			want: "",
		},
		{
			name: "flag with value after equals",
			args: []string{"--sokcet=/run/memoria/ingest.sock"},
			want: "--socket",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := suggestFlag(test.args, makeFlagSet())
			if got != test.want {
				t.Errorf("suggestFlag(%v) = %q, want %q", test.args, got, test.want)
			}
		})
	}
}
