package recommend

import (
	"sort"

	"github.com/hitoshi/newsrec/internal/vector"
)

// Candidate はランキング対象の記事IDとベクトル。
// Vectorがnilまたは空の候補はランキングから除外される。
type Candidate struct {
	ID     string
	Vector []float64
}

// Scored は類似度付きの候補。
type Scored struct {
	ID    string
	Score float64
}

// Rank はqueryとのコサイン類似度の降順で上位k件のIDを返す。
// 同点の場合は入力順を維持する（安定ソート）。
// queryが空の場合は空を返す。次元が異なる候補があればエラーを返す。
func Rank(query []float64, candidates []Candidate, k int) ([]string, error) {
	scored, err := Score(query, candidates)
	if err != nil {
		return nil, err
	}
	if k < len(scored) {
		scored = scored[:max(k, 0)]
	}
	ids := make([]string, len(scored))
	for i, s := range scored {
		ids[i] = s.ID
	}
	return ids, nil
}

// Score はベクトルを持つ全候補の類似度を降順（安定）で返す。
// ゼロベクトルの候補は類似度0として扱う。
func Score(query []float64, candidates []Candidate) ([]Scored, error) {
	if len(query) == 0 {
		return nil, nil
	}

	scored := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		if len(c.Vector) == 0 {
			continue
		}
		sim, err := vector.CosineSimilarity(query, c.Vector)
		if err != nil {
			return nil, err
		}
		scored = append(scored, Scored{ID: c.ID, Score: sim})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored, nil
}
