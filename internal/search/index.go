// Package search ranks short free-text records (customer display names) for
// the kiosk's local lookup screen. The database narrows candidates with a
// substring match; this package orders them so the closest names come first.
// An index is immutable once built and safe for concurrent use. Names are
// case-folded with golang.org/x/text/cases, so "MÜLLER" finds "Müller".
//
// Scoring is a weighted Jaccard similarity between the query token set and
// each record's token set: an exact token match counts 1, a prefix match
// counts PrefixWeight and an inner substring match counts SubstringWeight.
package search

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

const (
	// PrefixWeight is the credit for a query token that starts a record token.
	PrefixWeight = 0.75
	// SubstringWeight is the credit for a query token found inside a record token.
	SubstringWeight = 0.5
)

// Candidate is a record to rank. Key identifies it to the caller.
type Candidate struct {
	Key  string
	Text string
}

// Result is a ranked candidate with its similarity score.
type Result struct {
	Key   string
	Text  string
	Score float64
}

// Index is the minimal interface implemented by all search indices.
type Index interface {
	TopK(query string, k int) []Result
}

type Option func(*config)

type config struct {
	stopwords map[string]struct{}
	maxDocs   int
}

func defaultConfig() config {
	return config{}
}

// WithStopwords drops the given words from both records and queries
// (e.g. honorifics such as "mr" or "dr").
func WithStopwords(words []string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			w = fold(strings.TrimSpace(w))
			if w != "" {
				m[w] = struct{}{}
			}
		}
		if len(m) > 0 {
			c.stopwords = m
		}
	}
}

// WithMaxDocs caps the number of indexed candidates.
func WithMaxDocs(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxDocs = n
		}
	}
}

type doc struct {
	key    string
	text   string
	order  int
	tokens []string
}

type index struct {
	cfg  config
	docs []doc
}

// NewIndex builds an Index over cands. Candidates without any word token are
// skipped. Input order is remembered and used as the final tie-breaker.
func NewIndex(cands []Candidate, opts ...Option) Index {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	docs := make([]doc, 0, len(cands))
	for i, c := range cands {
		toks := tokenize(c.Text, cfg.stopwords)
		if len(toks) == 0 {
			continue
		}
		docs = append(docs, doc{key: c.Key, text: strings.TrimSpace(c.Text), order: i, tokens: toks})
		if cfg.maxDocs > 0 && len(docs) >= cfg.maxDocs {
			break
		}
	}
	return &index{cfg: cfg, docs: docs}
}

// TopK returns up to k best-matching candidates. k <= 0 returns every match.
func (i *index) TopK(q string, k int) []Result {
	if len(i.docs) == 0 || strings.TrimSpace(q) == "" {
		return nil
	}
	qTokens := tokenize(q, i.cfg.stopwords)
	if len(qTokens) == 0 {
		return nil
	}

	type scored struct {
		doc      doc
		score    float64
		lenRunes int
	}
	buf := make([]scored, 0, len(i.docs))
	for _, d := range i.docs {
		score := similarity(qTokens, d.tokens)
		if score <= 0 {
			continue
		}
		buf = append(buf, scored{doc: d, score: score, lenRunes: utf8.RuneCountInString(d.text)})
	}
	if len(buf) == 0 {
		return nil
	}

	sort.SliceStable(buf, func(a, b int) bool {
		if buf[a].score != buf[b].score {
			return buf[a].score > buf[b].score
		}
		if buf[a].lenRunes != buf[b].lenRunes {
			return buf[a].lenRunes < buf[b].lenRunes
		}
		return buf[a].doc.order < buf[b].doc.order
	})

	if k <= 0 || k > len(buf) {
		k = len(buf)
	}
	out := make([]Result, k)
	for n := 0; n < k; n++ {
		out[n] = Result{Key: buf[n].doc.key, Text: buf[n].doc.text, Score: buf[n].score}
	}
	return out
}

var wordRE = regexp.MustCompile(`[\p{L}\p{N}]+`)

// fold builds a fresh Caser per call; a Caser must not be shared between
// goroutines.
func fold(s string) string { return cases.Fold().String(s) }

// tokenize returns the distinct folded word tokens of s in first-seen order.
func tokenize(s string, stop map[string]struct{}) []string {
	words := wordRE.FindAllString(fold(s), -1)
	if len(words) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		if _, skip := stop[w]; skip {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// similarity is |Q ∩ D| / |Q ∪ D| where each query token contributes the
// weight of its best match against the record tokens.
func similarity(q, d []string) float64 {
	if len(q) == 0 || len(d) == 0 {
		return 0
	}
	var over float64
	matched := 0
	for _, qt := range q {
		best := 0.0
		for _, dt := range d {
			switch {
			case qt == dt:
				best = 1
			case strings.HasPrefix(dt, qt):
				best = max(best, PrefixWeight)
			case strings.Contains(dt, qt):
				best = max(best, SubstringWeight)
			}
			if best == 1 {
				break
			}
		}
		if best > 0 {
			over += best
			matched++
		}
	}
	if matched == 0 {
		return 0
	}
	union := float64(len(q) + len(d) - matched)
	return over / union
}
