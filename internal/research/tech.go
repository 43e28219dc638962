package research

import (
	"fmt"
	"sort"
	"strings"
)

// techKeywords is the vocabulary recognised in search results and stacks.
var techKeywords = []string{
	"python", "go", "golang", "rust", "java", "ruby", "php", "typescript",
	"javascript", "c#", ".net", "elixir", "scala", "kotlin", "swift",
	"postgres", "postgresql", "mysql", "mongodb", "redis", "elasticsearch",
	"dynamodb", "cockroachdb", "oracle", "sql server", "sqlite", "cassandra",
	"aws", "gcp", "google cloud", "azure", "digitalocean", "heroku",
	"fly.io", "render", "vercel", "cloudflare", "on-prem",
	"kubernetes", "docker", "nomad", "terraform", "ansible",
	"react", "vue", "angular", "next.js", "django", "fastapi", "rails",
	"spring", "express", "flask",
}

var databaseTech = map[string]bool{
	"postgres": true, "mysql": true, "mongodb": true, "redis": true,
	"dynamodb": true, "cockroachdb": true, "oracle": true, "sql server": true,
	"cassandra": true, "elasticsearch": true, "sqlite": true,
}

var canonicalTech = map[string]string{
	"postgresql":   "postgres",
	"golang":       "go",
	"google cloud": "gcp",
}

// ExtractTech returns the known technologies mentioned in text, normalised
// and sorted. Keywords only match on word boundaries, so "go" does not
// match "google".
func ExtractTech(text string) []string {
	lower := strings.ToLower(text)
	seen := make(map[string]bool)
	for _, kw := range techKeywords {
		if containsWord(lower, kw) {
			seen[canonical(kw)] = true
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func canonical(kw string) string {
	if c, ok := canonicalTech[kw]; ok {
		return c
	}
	return kw
}

func containsWord(text, word string) bool {
	for start := 0; ; {
		i := strings.Index(text[start:], word)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(word)
		if (i == 0 || !isWordByte(text[i-1])) && (end == len(text) || !isWordByte(text[end])) {
			return true
		}
		start = i + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

// normalizeStack maps a claimed stack onto the keyword vocabulary. Entries
// that contain no known keyword are kept verbatim, lower-cased.
func normalizeStack(stack []string) map[string]bool {
	out := make(map[string]bool)
	for _, entry := range stack {
		found := ExtractTech(entry)
		if len(found) == 0 {
			if e := strings.ToLower(strings.TrimSpace(entry)); e != "" {
				out[e] = true
			}
			continue
		}
		for _, t := range found {
			out[t] = true
		}
	}
	return out
}

// detectMismatch compares a claimed stack with technology found on the web.
// It reports a mismatch when the claimed and observed databases are
// disjoint, or when technology was found but none of it was claimed.
func detectMismatch(claimed []string, actual []string) (bool, string) {
	claimedSet := normalizeStack(claimed)
	actualSet := make(map[string]bool, len(actual))
	for _, t := range actual {
		actualSet[t] = true
	}

	var claimedDBs, actualDBs []string
	for t := range claimedSet {
		if databaseTech[t] {
			claimedDBs = append(claimedDBs, t)
		}
	}
	for t := range actualSet {
		if databaseTech[t] {
			actualDBs = append(actualDBs, t)
		}
	}
	sort.Strings(claimedDBs)
	sort.Strings(actualDBs)

	if len(claimedDBs) > 0 && len(actualDBs) > 0 && !intersects(claimedDBs, actualSet) {
		return true, fmt.Sprintf("Claimed DB: %s, but web evidence shows: %s",
			strings.Join(claimedDBs, ", "), strings.Join(actualDBs, ", "))
	}

	if len(actual) > 0 {
		overlap := false
		for t := range claimedSet {
			if actualSet[t] {
				overlap = true
				break
			}
		}
		if !overlap {
			claimedList := make([]string, 0, len(claimedSet))
			for t := range claimedSet {
				claimedList = append(claimedList, t)
			}
			sort.Strings(claimedList)
			return true, fmt.Sprintf("None of the claimed stack [%s] found in web results. Found instead: [%s]",
				strings.Join(claimedList, ", "), strings.Join(actual, ", "))
		}
	}
	return false, ""
}

func intersects(items []string, set map[string]bool) bool {
	for _, it := range items {
		if set[it] {
			return true
		}
	}
	return false
}
