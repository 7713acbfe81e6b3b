// Copyright 2026 The Memoria Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"strings"

	"github.com/spf13/pflag"
)

// suggestDistance is the largest edit distance still treated as a
// plausible typo. Three edits covers transpositions, dropped
// characters, and fat-fingered extras without suggesting unrelated
// names.
const suggestDistance = 3

// suggestCommand returns the subcommand name closest to the unknown
// input, or "" when nothing is within suggestDistance.
func suggestCommand(unknown string, commands []*Command) string {
	best := ""
	bestDistance := suggestDistance + 1

	for _, command := range commands {
		if distance := levenshtein(unknown, command.Name); distance < bestDistance {
			bestDistance = distance
			best = command.Name
		}
	}

	return best
}

// suggestFlag finds the first argument that looks like a flag but is
// not defined on the flag set, and returns the closest defined flag
// name with its dash prefix. Returns "" when every flag in args is
// known or nothing is close enough.
func suggestFlag(args []string, flagSet *pflag.FlagSet) string {
	defined := make(map[string]bool)
	var names []string
	flagSet.VisitAll(func(f *pflag.Flag) {
		defined[f.Name] = true
		names = append(names, f.Name)
		if f.Shorthand != "" {
			defined[f.Shorthand] = true
		}
	})

	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") {
			continue
		}

		name := strings.TrimLeft(arg, "-")
		if index := strings.IndexByte(name, '='); index >= 0 {
			name = name[:index]
		}
		// A bare "-" is the stdin convention, not a flag.
		if name == "" || defined[name] {
			continue
		}

		best := ""
		bestDistance := suggestDistance + 1
		for _, candidate := range names {
			if distance := levenshtein(name, candidate); distance < bestDistance {
				bestDistance = distance
				best = candidate
			}
		}

		// Only the first unrecognized flag gets a suggestion; it is
		// the one the parse error reported.
		if best == "" {
			return ""
		}
		if len(best) == 1 {
			return "-" + best
		}
		return "--" + best
	}

	return ""
}

// levenshtein computes the edit distance between two strings: the
// minimum number of single-character insertions, deletions, and
// substitutions turning one into the other.
func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	// Two rows of the distance matrix, swapped each iteration. Keeping
	// the shorter string on the row bounds the space at O(min(m,n)).
	if len(a) > len(b) {
		a, b = b, a
	}

	previous := make([]int, len(a)+1)
	current := make([]int, len(a)+1)
	for i := range previous {
		previous[i] = i
	}

	for j := 1; j <= len(b); j++ {
		current[0] = j
		for i := 1; i <= len(a); i++ {
			substitution := previous[i-1]
			if a[i-1] != b[j-1] {
				substitution++
			}
			current[i] = min(substitution, previous[i]+1, current[i-1]+1)
		}
		previous, current = current, previous
	}

	return previous[len(a)]
}
