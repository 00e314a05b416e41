package memory

import (
	"sort"
	"time"
	"unicode/utf8"
)

// Ranking weights. Similarity is deliberately absent: it only decides which
// records enter the candidate pool.
const (
	recencyWeight   = 1.0
	brevityWeight   = 0.3
	recencyHalfLife = 86400.0 // seconds
	brevityFreeLen  = 160
)

// Recency scores how fresh a record is: 1/(1+age/1day), with age floored
// at one second. A zero CreatedAt counts as brand new.
func Recency(created, now time.Time) float64 {
	age := 1.0
	if !created.IsZero() {
		if secs := now.Sub(created).Seconds(); secs > age {
			age = secs
		}
	}
	return 1 / (1 + age/recencyHalfLife)
}

// Brevity scores how concise content is. Up to 160 characters scores 1;
// beyond that the score decays with every additional 160 characters.
func Brevity(content string) float64 {
	excess := utf8.RuneCountInString(content) - brevityFreeLen
	if excess < 0 {
		excess = 0
	}
	return 1 / (1 + float64(excess)/brevityFreeLen)
}

// Score combines recency and brevity for one record.
func Score(rec *Record, now time.Time) float64 {
	return recencyWeight*Recency(rec.CreatedAt, now) + brevityWeight*Brevity(rec.Content)
}

// Rank re-sorts a similarity shortlist by Score and returns the best topK as
// recollections. Equal scores keep their similarity order.
func Rank(candidates []Match, now time.Time, topK int) []Recollection {
	if topK <= 0 || len(candidates) == 0 {
		return nil
	}

	type scored struct {
		rec   *Record
		score float64
	}
	pool := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		if c.Record == nil {
			continue
		}
		pool = append(pool, scored{rec: c.Record, score: Score(c.Record, now)})
	}

	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].score > pool[j].score
	})

	if len(pool) > topK {
		pool = pool[:topK]
	}
	out := make([]Recollection, len(pool))
	for i, s := range pool {
		out[i] = Recollection{Role: s.rec.Role, Content: s.rec.Content}
	}
	return out
}

// CandidatePoolSize is how many nearest neighbors to fetch for a request of
// topK results: multiplier*topK, capped at limit. The cap also bounds the
// number of results.
func CandidatePoolSize(topK, multiplier, limit int) int {
	n := topK * multiplier
	if n > limit {
		n = limit
	}
	return n
}
