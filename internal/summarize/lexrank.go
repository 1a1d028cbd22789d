package summarize

import (
	"math"
	"strings"
	"unicode"
)

// Rate scores each sentence by LexRank centrality.
func Rate(sents []string, threshold, epsilon float64) []float64 {
	n := len(sents)
	if n == 0 {
		return nil
	}

	words := make([][]string, n)
	for i, s := range sents {
		words[i] = Words(s)
	}
	tf := termFrequencies(words)
	idf := inverseDocumentFrequencies(words)

	matrix := make([][]float64, n)
	for row := 0; row < n; row++ {
		matrix[row] = make([]float64, n)
		degree := 0.0
		for col := 0; col < n; col++ {
			if cosine(words[row], words[col], tf[row], tf[col], idf) > threshold {
				matrix[row][col] = 1
				degree++
			}
		}
		if degree == 0 {
			degree = 1
		}
		for col := range matrix[row] {
			matrix[row][col] /= degree
		}
	}
	return powerMethod(matrix, epsilon)
}

// Words extracts lower-cased word tokens: runs starting with a letter and
// containing only letters, apostrophes and hyphens. Tokens with digits are
// dropped.
func Words(sentence string) []string {
	var out []string
	for _, tok := range strings.FieldsFunc(sentence, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' || r == '-' || r == '_')
	}) {
		if isWord(tok) {
			out = append(out, strings.ToLower(tok))
		}
	}
	return out
}

func isWord(tok string) bool {
	for i, r := range tok {
		if i == 0 {
			if !unicode.IsLetter(r) {
				return false
			}
			continue
		}
		if !unicode.IsLetter(r) && r != '\'' && r != '-' {
			return false
		}
	}
	return tok != ""
}

func termFrequencies(words [][]string) []map[string]float64 {
	out := make([]map[string]float64, len(words))
	for i, ws := range words {
		counts := make(map[string]float64, len(ws))
		maxCount := 0.0
		for _, w := range ws {
			counts[w]++
			if counts[w] > maxCount {
				maxCount = counts[w]
			}
		}
		if maxCount == 0 {
			maxCount = 1
		}
		for w := range counts {
			counts[w] /= maxCount
		}
		out[i] = counts
	}
	return out
}

func inverseDocumentFrequencies(words [][]string) map[string]float64 {
	docs := make(map[string]int)
	for _, ws := range words {
		seen := make(map[string]bool, len(ws))
		for _, w := range ws {
			if !seen[w] {
				seen[w] = true
				docs[w]++
			}
		}
	}
	n := float64(len(words))
	idf := make(map[string]float64, len(docs))
	for w, nj := range docs {
		idf[w] = math.Log(n / (1 + float64(nj)))
	}
	return idf
}

// cosine is the idf-modified cosine similarity. Denominators sum over the
// word lists, so repeated words count once per occurrence.
func cosine(w1, w2 []string, tf1, tf2, idf map[string]float64) float64 {
	numerator := 0.0
	for w, f1 := range tf1 {
		if f2, ok := tf2[w]; ok {
			numerator += f1 * f2 * idf[w] * idf[w]
		}
	}

	d1 := 0.0
	for _, w := range w1 {
		x := tf1[w] * idf[w]
		d1 += x * x
	}
	d2 := 0.0
	for _, w := range w2 {
		x := tf2[w] * idf[w]
		d2 += x * x
	}
	if d1 == 0 || d2 == 0 {
		return 0
	}
	return numerator / (math.Sqrt(d1) * math.Sqrt(d2))
}

// powerMethod iterates p = Mᵀp from the uniform vector until the step
// length drops to epsilon.
func powerMethod(matrix [][]float64, epsilon float64) []float64 {
	n := len(matrix)
	p := make([]float64, n)
	for i := range p {
		p[i] = 1 / float64(n)
	}

	next := make([]float64, n)
	for iter := 0; iter < maxIterations; iter++ {
		for i := range next {
			next[i] = 0
		}
		for row := 0; row < n; row++ {
			for col := 0; col < n; col++ {
				next[col] += matrix[row][col] * p[row]
			}
		}
		delta := 0.0
		for i := range next {
			d := next[i] - p[i]
			delta += d * d
		}
		p, next = next, p
		if math.Sqrt(delta) <= epsilon {
			break
		}
	}
	return p
}
