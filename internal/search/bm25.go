package search

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// BM25 defaults, the standard Okapi values.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// Tokenize lowercases and splits s into word tokens, shared by indexing
// and querying so both sides agree on vocabulary.
func Tokenize(s string) []string {
	return tokenPattern.FindAllString(strings.ToLower(s), -1)
}

// doc is one indexed document's term-frequency table and length.
type doc struct {
	termFreq map[string]int
	length   int
}

// BM25Index is a standard term-frequency/inverse-document-frequency
// lexical index over tokenized content+summary+tags.
type BM25Index struct {
	mu        sync.RWMutex
	docs      map[string]*doc
	docFreq   map[string]int // term -> number of docs containing it
	totalLen  int
}

// NewBM25Index constructs an empty index.
func NewBM25Index() *BM25Index {
	return &BM25Index{docs: make(map[string]*doc), docFreq: make(map[string]int)}
}

// Index tokenizes text and stores it under id, replacing any prior
// document with that id.
func (b *BM25Index) Index(id, text string) {
	tokens := Tokenize(text)
	tf := make(map[string]int, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.docs[id]; ok {
		b.totalLen -= old.length
		for term := range old.termFreq {
			b.docFreq[term]--
			if b.docFreq[term] <= 0 {
				delete(b.docFreq, term)
			}
		}
	}
	d := &doc{termFreq: tf, length: len(tokens)}
	b.docs[id] = d
	b.totalLen += d.length
	for term := range tf {
		b.docFreq[term]++
	}
}

// Remove deletes id from the index.
func (b *BM25Index) Remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.docs[id]
	if !ok {
		return
	}
	b.totalLen -= d.length
	for term := range d.termFreq {
		b.docFreq[term]--
		if b.docFreq[term] <= 0 {
			delete(b.docFreq, term)
		}
	}
	delete(b.docs, id)
}

// Len returns the number of indexed documents.
func (b *BM25Index) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.docs)
}

func (b *BM25Index) avgDocLenLocked() float64 {
	if len(b.docs) == 0 {
		return 0
	}
	return float64(b.totalLen) / float64(len(b.docs))
}

// LexHit is one BM25 match. Unlike vectorindex.Hit (a distance, lower
// is closer), Score is a similarity: higher is better.
type LexHit struct {
	ID    string
	Score float64
}

// Search scores query against every indexed document by BM25 and
// returns the top k, descending by score.
func (b *BM25Index) Search(query string, k int) []LexHit {
	terms := Tokenize(query)
	if len(terms) == 0 {
		return nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	n := float64(len(b.docs))
	avgLen := b.avgDocLenLocked()
	if n == 0 {
		return nil
	}

	scores := make(map[string]float64)
	for _, term := range terms {
		df := b.docFreq[term]
		if df == 0 {
			continue
		}
		idf := math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))
		for id, d := range b.docs {
			tf := d.termFreq[term]
			if tf == 0 {
				continue
			}
			denom := float64(tf) + bm25K1*(1-bm25B+bm25B*float64(d.length)/avgLen)
			scores[id] += idf * (float64(tf) * (bm25K1 + 1) / denom)
		}
	}

	hits := make([]LexHit, 0, len(scores))
	for id, s := range scores {
		if s > 0 {
			hits = append(hits, LexHit{ID: id, Score: s})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
