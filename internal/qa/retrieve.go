package qa

import (
	"sort"
	"strings"
	"unicode"

	"github.com/formai-apps/kyuyoagent/internal/rules"
)

const (
	chunkSize      = 1000
	chunkOverlap   = 200
	retrieveChunks = 4
)

type chunk struct {
	doc  string
	text string
}

func splitDocuments(docs []rules.Document) []chunk {
	var chunks []chunk
	for _, doc := range docs {
		for _, part := range splitText(doc.Content, chunkSize, chunkOverlap) {
			chunks = append(chunks, chunk{doc: doc.Name, text: part})
		}
	}
	return chunks
}

// splitText cuts text into overlapping rune windows, preferring to break at
// a paragraph boundary near the end of each window.
func splitText(text string, size, overlap int) []string {
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}

		split := end
		for i := end; i > end-overlap && i > start; i-- {
			if runes[i] == '\n' && (i+1 >= len(runes) || runes[i+1] == '\n') {
				split = i + 1
				break
			}
		}

		chunks = append(chunks, string(runes[start:split]))
		start = split - overlap
	}

	return chunks
}

// rankChunks orders chunks by how many query terms they contain and keeps
// the top k. Ties keep document order, so an unanswerable question still
// yields the leading chunks as context.
func rankChunks(chunks []chunk, question string, k int) []chunk {
	terms := queryTerms(question)

	type scored struct {
		chunk chunk
		score int
	}
	ranked := make([]scored, 0, len(chunks))
	for _, c := range chunks {
		ranked = append(ranked, scored{chunk: c, score: scoreChunk(c.text, terms)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	if k > len(ranked) {
		k = len(ranked)
	}
	out := make([]chunk, 0, k)
	for _, s := range ranked[:k] {
		out = append(out, s.chunk)
	}
	return out
}

func scoreChunk(text string, terms []string) int {
	lower := strings.ToLower(text)
	score := 0
	for _, t := range terms {
		score += strings.Count(lower, t)
	}
	return score
}

// queryTerms extracts matchable terms from a question. Alphanumeric runs
// become lowercased words; runs of other letters become character bigrams,
// since Japanese text carries no word separators.
func queryTerms(question string) []string {
	var terms []string
	seen := make(map[string]bool)
	add := func(t string) {
		if !seen[t] {
			seen[t] = true
			terms = append(terms, t)
		}
	}

	var word []rune
	var cjk []rune
	flushWord := func() {
		if len(word) >= 2 {
			add(string(word))
		}
		word = word[:0]
	}
	flushCJK := func() {
		if len(cjk) == 1 {
			add(string(cjk))
		}
		for i := 0; i+1 < len(cjk); i++ {
			add(string(cjk[i : i+2]))
		}
		cjk = cjk[:0]
	}

	for _, r := range strings.ToLower(question) {
		switch {
		case r < 128 && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			flushCJK()
			word = append(word, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushWord()
			cjk = append(cjk, r)
		default:
			flushWord()
			flushCJK()
		}
	}
	flushWord()
	flushCJK()

	return terms
}
