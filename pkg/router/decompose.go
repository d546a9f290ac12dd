package router

import "strings"

// maxSubTasks caps how many clauses fan out in parallel execution.
const maxSubTasks = 5

// imperativeVerbs mark a clause as an actionable sub-task.
var imperativeVerbs = map[string]bool{
	"implement": true, "build": true, "create": true, "write": true,
	"develop": true, "code": true, "add": true, "make": true,
	"generate": true, "refactor": true, "design": true, "test": true,
	"deploy": true, "document": true, "review": true, "fix": true,
	"migrate": true, "configure": true, "optimize": true, "analyze": true,
	"set": true, "validate": true, "verify": true,
}

// Decompose splits a query into candidate sub-task clauses on the given
// conjunction markers, preserving original order. Markers are applied
// longest-first by the caller's ordering so "and then" splits before "and".
func Decompose(query string, conjunctions []string) []string {
	segments := []string{strings.TrimSpace(query)}
	for _, conj := range conjunctions {
		var next []string
		for _, seg := range segments {
			next = append(next, splitFold(seg, conj)...)
		}
		segments = next
	}

	var out []string
	for _, seg := range segments {
		seg = strings.Trim(strings.TrimSpace(seg), ".,;:")
		if len(seg) > 1 {
			out = append(out, seg)
		}
	}
	return out
}

// imperativeClauses keeps only clauses that start with an actionable verb.
func imperativeClauses(clauses []string) []string {
	var out []string
	for _, c := range clauses {
		words := strings.Fields(strings.ToLower(c))
		if len(words) > 0 && imperativeVerbs[words[0]] {
			out = append(out, c)
		}
	}
	return out
}

// splitFold splits s on sep case-insensitively while preserving the
// original casing of the retained segments. sep must be lowercase.
func splitFold(s, sep string) []string {
	lower := strings.ToLower(s)
	var out []string
	for {
		i := strings.Index(lower, sep)
		if i < 0 {
			out = append(out, s)
			return out
		}
		out = append(out, s[:i])
		s = s[i+len(sep):]
		lower = lower[i+len(sep):]
	}
}
