package normalize

import (
	"fmt"
	"sort"
	"strings"

	"showscrape/internal/model"
)

// TagRule adds Tags when every word in When occurs in the event's text.
type TagRule struct {
	When []string
	Tags []string
}

type compiledRule struct {
	words []string
	tags  []string
}

func compileRules(rules []TagRule) []compiledRule {
	var out []compiledRule
	for _, r := range rules {
		words := make([]string, 0, len(r.When))
		for _, w := range r.When {
			if s := strings.TrimSpace(w); s != "" {
				words = append(words, strings.ToLower(s))
			}
		}
		if len(words) == 0 || len(r.Tags) == 0 {
			continue
		}
		out = append(out, compiledRule{words: words, tags: r.Tags})
	}
	return out
}

// ruleText is the lowercase haystack keyword rules match against.
func ruleText(raw model.RawEvent) string {
	parts := append([]string{}, raw.Artists...)
	parts = append(parts, raw.Tags...)
	for _, k := range sortedKeys(raw.Extra) {
		switch v := raw.Extra[k].(type) {
		case string:
			parts = append(parts, v)
		case []string:
			parts = append(parts, v...)
		case []any:
			for _, e := range v {
				if s, ok := e.(string); ok {
					parts = append(parts, s)
				}
			}
		case fmt.Stringer:
			parts = append(parts, v.String())
		}
	}
	return strings.ToLower(strings.Join(parts, " "))
}

func applyRules(rules []compiledRule, text string, tags []string) []string {
	for _, r := range rules {
		hit := true
		for _, w := range r.words {
			if !strings.Contains(text, w) {
				hit = false
				break
			}
		}
		if hit {
			tags = append(tags, r.tags...)
		}
	}
	return tags
}

// tagSet trims, lowercases, de-duplicates and sorts tags.
func tagSet(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.Join(strings.Fields(t), " "))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
