// Package query implements the Query Service (C9): function search and
// class-level aggregation over a builder-managed index. Neither operation
// mutates the index directly; both call through to the builder to ensure
// freshness first (§4.8), then read the resulting state.
package query

import (
	"context"
	"fmt"
	"sort"

	"owlsearch/internal/builder"
	"owlsearch/internal/funcstore"
)

// Hit is one ranked function match.
type Hit struct {
	Record funcstore.Record `json:"record"`
	Rank   int              `json:"rank"` // 1-based
	Score  float32          `json:"score"`
}

// Search ensures a fresh index for (root, ext), encodes text, and returns
// the k nearest function records in score order. A target with no records
// returns an empty result and an explanatory message rather than an error
// (§4.9: "missing index ... returns an empty result with a message, not an
// error").
func Search(ctx context.Context, b *builder.Builder, root, ext, text string, k int) ([]Hit, string, error) {
	funcs, _, err := b.Build(ctx, root, ext, true)
	if err != nil {
		return nil, "", err
	}
	if funcs == nil || funcs.Len() == 0 {
		return nil, "no index for target", nil
	}

	st, ok := b.State(root, ext)
	if !ok {
		return nil, "no index for target", nil
	}

	qvec, err := b.EncodeQuery(ctx, text)
	if err != nil {
		return nil, "", err
	}

	scores, rowIDs, err := st.Vectors.Search(qvec, k)
	if err != nil {
		return nil, "", err
	}

	records := st.Funcs.All()
	hits := make([]Hit, 0, len(rowIDs))
	for i, row := range rowIDs {
		if row < 0 || row >= len(records) {
			continue
		}
		hits = append(hits, Hit{Record: records[row], Rank: len(hits) + 1, Score: scores[i]})
	}
	return hits, "", nil
}

// ClassGroup is one (class_name, file) aggregation.
type ClassGroup struct {
	ClassName   string             `json:"class_name"`
	File        string             `json:"file"`
	Methods     []funcstore.Record `json:"methods"` // sorted ascending by rank, unmatched last
	Composite   float64            `json:"composite"`
	BestRank    int                `json:"best_rank"` // 0 means no match
	MethodCount int                `json:"method_count"`
	Matched     int                `json:"matched"`
}

type rankedRecord struct {
	rec  funcstore.Record
	rank int // 0 means unmatched
}

const unranked = int(^uint(0) >> 1)

func effectiveRank(r int) int {
	if r == 0 {
		return unranked
	}
	return r
}

// ClassStats implements §4.9's class-aggregation ranker. It runs Search with
// the given k as the candidate pool, then groups every function in the
// target by (class_name, file) and scores each group by the fixed composite
// formula weighted_score * (1 + proportion) / 2. Stand-alone (class-less)
// functions are returned separately, in search-result order followed by
// remaining stand-alones in discovery order.
func ClassStats(ctx context.Context, b *builder.Builder, root, ext, text string, k int) ([]ClassGroup, []funcstore.Record, error) {
	hits, _, err := Search(ctx, b, root, ext, text, k)
	if err != nil {
		return nil, nil, err
	}

	st, ok := b.State(root, ext)
	if !ok {
		return nil, nil, nil
	}
	all := st.Funcs.All()

	rankOf := make(map[string]int, len(hits))
	for _, h := range hits {
		rankOf[matchKey(h.Record)] = h.Rank
	}

	type groupKey struct{ class, file string }
	groups := make(map[groupKey]*ClassGroup)
	var order []groupKey
	var standalone []rankedRecord

	for _, rec := range all {
		if rec.ClassName == "" {
			standalone = append(standalone, rankedRecord{rec: rec, rank: rankOf[matchKey(rec)]})
			continue
		}
		key := groupKey{class: rec.ClassName, file: rec.File}
		g, exists := groups[key]
		if !exists {
			g = &ClassGroup{ClassName: rec.ClassName, File: rec.File}
			groups[key] = g
			order = append(order, key)
		}
		g.Methods = append(g.Methods, rec)
	}

	result := make([]ClassGroup, 0, len(order))
	for _, key := range order {
		g := groups[key]
		g.MethodCount = len(g.Methods)

		sort.SliceStable(g.Methods, func(i, j int) bool {
			return effectiveRank(rankOf[matchKey(g.Methods[i])]) < effectiveRank(rankOf[matchKey(g.Methods[j])])
		})

		var weighted float64
		bestRank := 0
		matched := 0
		for _, m := range g.Methods {
			r := rankOf[matchKey(m)]
			if r > 0 {
				matched++
				weighted += 1.0 / float64(r)
				if bestRank == 0 || r < bestRank {
					bestRank = r
				}
			}
		}
		g.Matched = matched
		proportion := float64(matched) / float64(g.MethodCount)
		g.Composite = weighted * (1 + proportion) / 2
		g.BestRank = bestRank
		result = append(result, *g)
	}

	sort.SliceStable(result, func(i, j int) bool { return result[i].Composite > result[j].Composite })

	sort.SliceStable(standalone, func(i, j int) bool {
		return effectiveRank(standalone[i].rank) < effectiveRank(standalone[j].rank)
	})
	standaloneRecords := make([]funcstore.Record, len(standalone))
	for i, m := range standalone {
		standaloneRecords[i] = m.rec
	}

	return result, standaloneRecords, nil
}

// matchKey identifies a function for rank-matching by (name, absolute file,
// lineno), per §4.9: "a method matches at most one result."
func matchKey(r funcstore.Record) string {
	return fmt.Sprintf("%s|%s|%d", r.Name, r.File, r.Lineno)
}
