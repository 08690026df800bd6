package retrieval

import "math"

const (
	bm25K1      = 1.5
	bm25B       = 0.75
	bm25Epsilon = 0.25
)

// okapi is a BM25 Okapi index over pre-tokenized chunks. It is never
// mutated after construction.
type okapi struct {
	docLen []int
	avgLen float64
	freqs  []map[string]int
	idf    map[string]float64
}

func newOkapi(corpus [][]string) *okapi {
	idx := &okapi{
		docLen: make([]int, len(corpus)),
		freqs:  make([]map[string]int, len(corpus)),
		idf:    make(map[string]float64),
	}
	if len(corpus) == 0 {
		return idx
	}

	docFreq := make(map[string]int)
	total := 0
	for i, tokens := range corpus {
		idx.docLen[i] = len(tokens)
		total += len(tokens)

		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
		}
		idx.freqs[i] = tf
		for tok := range tf {
			docFreq[tok]++
		}
	}
	idx.avgLen = float64(total) / float64(len(corpus))

	// Terms present in more than half the corpus get a negative IDF; those
	// are floored to a fraction of the mean IDF.
	n := float64(len(corpus))
	idfSum := 0.0
	var negative []string
	for tok, df := range docFreq {
		v := math.Log(n-float64(df)+0.5) - math.Log(float64(df)+0.5)
		idx.idf[tok] = v
		idfSum += v
		if v < 0 {
			negative = append(negative, tok)
		}
	}
	floor := bm25Epsilon * idfSum / float64(len(docFreq))
	for _, tok := range negative {
		idx.idf[tok] = floor
	}
	return idx
}

// scores returns one score per indexed chunk, in chunk order.
func (o *okapi) scores(query []string) []float64 {
	out := make([]float64, len(o.freqs))
	if o.avgLen == 0 {
		return out
	}
	for _, q := range query {
		idf, ok := o.idf[q]
		if !ok {
			continue
		}
		for i, tf := range o.freqs {
			f := float64(tf[q])
			if f == 0 {
				continue
			}
			norm := 1 - bm25B + bm25B*float64(o.docLen[i])/o.avgLen
			out[i] += idf * (f * (bm25K1 + 1)) / (f + bm25K1*norm)
		}
	}
	return out
}
