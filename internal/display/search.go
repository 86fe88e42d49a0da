package display

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/qubesos/qubes-appmenu/internal/registry"
)

// Interval is a half-open byte range [Start, End) of an entry name to
// highlight.
type Interval struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// SearchResult is one matching entry with its rank.
type SearchResult struct {
	Entry      Entry      `json:"entry"`
	Rank       float64    `json:"rank"`
	Highlights []Interval `json:"highlights,omitempty"`
}

// minFuzzyLen is the shortest search word matched with a typo.
const minFuzzyLen = 4

// ParseSearch splits search text into lowercase words. Dashes and
// underscores separate words.
func ParseSearch(text string) []string {
	text = strings.NewReplacer("-", " ", "_", " ").Replace(strings.ToLower(text))
	return strings.Fields(text)
}

// TextRank scores word against text words: 1 for a prefix match, 0.5 for a
// substring match, 0.25 for a single typo, 0 otherwise. The first text word
// that matches decides.
func TextRank(word string, textWords []string) float64 {
	if word == "" {
		return 0
	}
	for _, tw := range textWords {
		if strings.HasPrefix(tw, word) {
			return 1
		}
		if strings.Contains(tw, word) {
			return 0.5
		}
	}
	if len(word) < minFuzzyLen {
		return 0
	}
	for _, tw := range textWords {
		if levenshtein.ComputeDistance(word, tw) == 1 {
			return 0.25
		}
		if len(tw) > len(word) && levenshtein.ComputeDistance(word, tw[:len(word)]) == 1 {
			return 0.25
		}
	}
	return 0
}

// Search ranks every application in snap against text. All search words
// must match the entry's name or its qube name. Results are ordered by rank,
// then in menu order.
func Search(snap registry.Snapshot, text string) []SearchResult {
	words := ParseSearch(text)
	if len(words) == 0 {
		return nil
	}

	var out []SearchResult
	for _, q := range snap.Qubes {
		qubeWords := ParseSearch(q.Name)
		for _, a := range snap.Apps[q.Name] {
			entry := entryOf(a)
			textWords := append(ParseSearch(entry.Name), qubeWords...)
			var rank float64
			for _, w := range words {
				r := TextRank(w, textWords)
				if r == 0 {
					rank = 0
					break
				}
				rank += r
			}
			if rank == 0 {
				continue
			}
			out = append(out, SearchResult{
				Entry:      entry,
				Rank:       rank,
				Highlights: Highlight(entry.Name, words),
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank > out[j].Rank
		}
		return entryLess(out[i].Entry, out[j].Entry)
	})
	return out
}

// Highlight returns the merged ranges of text where any of words occurs
// first, compared case-insensitively.
func Highlight(text string, words []string) []Interval {
	lower := strings.ToLower(text)
	if len(lower) != len(text) {
		// Lowercasing changed byte offsets; nothing maps back safely.
		return nil
	}
	var found []Interval
	for _, w := range words {
		if i := strings.Index(lower, w); i >= 0 && w != "" {
			found = append(found, Interval{Start: i, End: i + len(w)})
		}
	}
	if len(found) == 0 {
		return nil
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Start < found[j].Start })

	merged := []Interval{found[0]}
	for _, iv := range found[1:] {
		last := &merged[len(merged)-1]
		if iv.Start <= last.End {
			last.End = max(last.End, iv.End)
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}
