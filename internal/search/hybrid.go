package search

import (
	"context"
	"sort"
	"sync"
)

// FusedHit is one result from Hybrid.Search: a record id, its fused
// score, and which underlying searches contributed to it.
type FusedHit struct {
	ID      string
	Score   float64
	Vector  *float64 // rank-based contribution from the vector search, nil if absent
	BM25    *float64 // rank-based contribution from BM25, nil if absent
}

// HybridOptions configures reciprocal-rank fusion (defaults: k=60,
// vector weight 0.6, BM25 weight 0.4).
type HybridOptions struct {
	K            int
	VectorWeight float64
	BM25Weight   float64
	MinScore     float64
	TopK         int
}

// DefaultHybridOptions returns the standard fusion parameters.
func DefaultHybridOptions() HybridOptions {
	return HybridOptions{K: 60, VectorWeight: 0.6, BM25Weight: 0.4, TopK: 20}
}

// Hybrid combines a VectorIndex and a BM25Index behind one Search
// call, running both legs concurrently and fusing with reciprocal
// rank fusion. If the embedder is unavailable the vector leg is
// skipped entirely and BM25 carries the whole result.
type Hybrid struct {
	vec      *VectorIndex
	lex      *BM25Index
	embedder *CachedEmbedder
}

// NewHybrid constructs a Hybrid over vec and lex, embedding queries
// through embedder (which may wrap a nil inner Embedder).
func NewHybrid(vec *VectorIndex, lex *BM25Index, embedder *CachedEmbedder) *Hybrid {
	return &Hybrid{vec: vec, lex: lex, embedder: embedder}
}

// Search runs the fused query and returns results sorted by
// descending score with no duplicate ids.
func (h *Hybrid) Search(ctx context.Context, query string, opts HybridOptions) []FusedHit {
	if opts.K <= 0 {
		opts.K = 60
	}
	if opts.VectorWeight == 0 && opts.BM25Weight == 0 {
		opts.VectorWeight, opts.BM25Weight = 0.6, 0.4
	}
	fetchK := opts.TopK
	if fetchK <= 0 {
		fetchK = 20
	}
	overFetch := fetchK * 3
	if overFetch < 50 {
		overFetch = 50
	}

	var vecHits []Hit
	var lexHits []LexHit
	var wg sync.WaitGroup

	if h.embedder != nil && h.embedder.Available() && h.vec != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			qvec, err := h.embedder.Embed(ctx, query)
			if err != nil {
				return
			}
			hits, err := h.vec.Search(qvec, overFetch)
			if err == nil {
				vecHits = hits
			}
		}()
	}
	if h.lex != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lexHits = h.lex.Search(query, overFetch)
		}()
	}
	wg.Wait()

	scores := make(map[string]float64)
	vecRank := make(map[string]float64)
	lexRank := make(map[string]float64)

	for rank, hit := range vecHits {
		contribution := opts.VectorWeight / float64(opts.K+rank+1)
		scores[hit.ID] += contribution
		vecRank[hit.ID] = contribution
	}
	for rank, hit := range lexHits {
		contribution := opts.BM25Weight / float64(opts.K+rank+1)
		scores[hit.ID] += contribution
		lexRank[hit.ID] = contribution
	}

	out := make([]FusedHit, 0, len(scores))
	for id, score := range scores {
		if score < opts.MinScore {
			continue
		}
		fh := FusedHit{ID: id, Score: score}
		if v, ok := vecRank[id]; ok {
			fh.Vector = &v
		}
		if l, ok := lexRank[id]; ok {
			fh.BM25 = &l
		}
		out = append(out, fh)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if fetchK > 0 && len(out) > fetchK {
		out = out[:fetchK]
	}
	return out
}
