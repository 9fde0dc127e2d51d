// Package sparse implements the BM25 sparse text index (SPEC_FULL.md §4.6),
// reworked from the teacher's pkg/semantic-router BM25Encoder: this version
// caps the vocabulary to the top-N terms by global frequency and fixes the
// IDF smoothing constant to the classic s=1.0 form.
package sparse

import (
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/liliang-cn/sqvect/v2/internal/vectorerr"
	"github.com/liliang-cn/sqvect/v2/pkg/vectortypes"
)

// defaultSmoothing is the s constant in idf(t) = ln((N-df+s)/(df+s)).
// SPEC_FULL.md §4.6 resolves the spec's smoothing Open Question in favor of
// the classic value rather than the teacher's +0.5-inside-log variant.
const defaultSmoothing = 1.0

// Config tunes the BM25 index.
type Config struct {
	K1 float64 // term-frequency saturation, default 1.2
	B  float64 // length normalization, default 0.75
	// MaxVocabSize caps the vocabulary to the top-N terms by global term
	// frequency; 0 means unbounded.
	MaxVocabSize int
}

// Document is one unit of text to index, identified by the same id the
// owning collection uses for its dense vector.
type Document struct {
	ID   string
	Text string
}

// SearchResult is one ranked document.
type SearchResult struct {
	ID    string
	Score float32
}

// Index is a BM25 inverted index over a corpus of documents.
type Index struct {
	mu sync.RWMutex

	k1           float64
	b            float64
	maxVocabSize int

	vocabIndex map[string]uint32
	vocabTerms []string

	globalTermFreq map[string]int
	docFreq        map[string]int
	inverted       map[string]map[string]struct{} // term -> set of doc ids

	docTermFreq map[string]map[string]int
	docLength   map[string]int
	totalLen    int

	texts map[string]string // raw text per doc id, kept only for snapshotting
}

// New constructs an empty BM25 index.
func New(cfg Config) *Index {
	k1 := cfg.K1
	if k1 == 0 {
		k1 = 1.2
	}
	b := cfg.B
	if b == 0 {
		b = 0.75
	}
	return &Index{
		k1:             k1,
		b:              b,
		maxVocabSize:   cfg.MaxVocabSize,
		vocabIndex:     make(map[string]uint32),
		globalTermFreq: make(map[string]int),
		docFreq:        make(map[string]int),
		inverted:       make(map[string]map[string]struct{}),
		docTermFreq:    make(map[string]map[string]int),
		docLength:      make(map[string]int),
		texts:          make(map[string]string),
	}
}

// tokenize lowercases and splits on non-alphanumeric runs, the tokenizer
// SPEC_FULL.md §4.6 specifies — stop-word-agnostic, unlike the teacher's.
func tokenize(text string) []string {
	text = strings.ToLower(text)
	var terms []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			terms = append(terms, current.String())
			current.Reset()
		}
	}
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			current.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return terms
}

// AddDocuments ingests a batch of documents, rebuilding the capped
// vocabulary and document-frequency tables afterward. Re-adding an id
// replaces its previous contribution.
func (idx *Index) AddDocuments(docs []Document) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, doc := range docs {
		idx.removeDocumentLocked(doc.ID)

		terms := tokenize(doc.Text)
		tf := make(map[string]int, len(terms))
		for _, term := range terms {
			tf[term]++
		}

		idx.docTermFreq[doc.ID] = tf
		idx.docLength[doc.ID] = len(terms)
		idx.totalLen += len(terms)
		idx.texts[doc.ID] = doc.Text

		for term, count := range tf {
			idx.globalTermFreq[term] += count
			idx.docFreq[term]++
			if idx.inverted[term] == nil {
				idx.inverted[term] = make(map[string]struct{})
			}
			idx.inverted[term][doc.ID] = struct{}{}
		}
	}

	idx.rebuildVocabularyLocked()
	return nil
}

// removeDocumentLocked undoes a previously ingested document's contribution.
// Caller must hold idx.mu.
func (idx *Index) removeDocumentLocked(id string) {
	tf, ok := idx.docTermFreq[id]
	if !ok {
		return
	}
	idx.totalLen -= idx.docLength[id]
	for term, count := range tf {
		idx.globalTermFreq[term] -= count
		if idx.globalTermFreq[term] <= 0 {
			delete(idx.globalTermFreq, term)
		}
		idx.docFreq[term]--
		if idx.docFreq[term] <= 0 {
			delete(idx.docFreq, term)
		}
		if set := idx.inverted[term]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(idx.inverted, term)
			}
		}
	}
	delete(idx.docTermFreq, id)
	delete(idx.docLength, id)
	delete(idx.texts, id)
}

// RemoveDocument drops a document from the index.
func (idx *Index) RemoveDocument(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeDocumentLocked(id)
	idx.rebuildVocabularyLocked()
}

// rebuildVocabularyLocked selects the top-N terms by global frequency,
// breaking ties alphabetically for determinism. Caller must hold idx.mu.
func (idx *Index) rebuildVocabularyLocked() {
	terms := make([]string, 0, len(idx.globalTermFreq))
	for t := range idx.globalTermFreq {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if idx.globalTermFreq[terms[i]] != idx.globalTermFreq[terms[j]] {
			return idx.globalTermFreq[terms[i]] > idx.globalTermFreq[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if idx.maxVocabSize > 0 && len(terms) > idx.maxVocabSize {
		terms = terms[:idx.maxVocabSize]
	}

	sort.Strings(terms) // stable index assignment independent of frequency churn
	idx.vocabTerms = terms
	idx.vocabIndex = make(map[string]uint32, len(terms))
	for i, t := range terms {
		idx.vocabIndex[t] = uint32(i)
	}
}

func (idx *Index) avgDocLen() float64 {
	n := len(idx.docTermFreq)
	if n == 0 {
		return 0
	}
	return float64(idx.totalLen) / float64(n)
}

// idf computes ln((N-df+s)/(df+s)) for a vocabulary term. Caller must hold
// idx.mu (at least a read lock).
func (idx *Index) idf(term string) float64 {
	n := float64(len(idx.docTermFreq))
	df := float64(idx.docFreq[term])
	return math.Log((n - df + defaultSmoothing) / (df + defaultSmoothing))
}

// score computes the BM25 score of term in a document of the given term
// frequency and length. Caller must hold idx.mu.
func (idx *Index) score(term string, tf, docLen int, avgdl float64) float64 {
	if _, inVocab := idx.vocabIndex[term]; !inVocab {
		return 0
	}
	numerator := float64(tf) * (idx.k1 + 1)
	denominator := float64(tf) + idx.k1*(1-idx.b+idx.b*(float64(docLen)/avgdl))
	if denominator == 0 {
		return 0
	}
	return idx.idf(term) * (numerator / denominator)
}

// Search tokenizes query and returns the topK documents by summed BM25
// score, restricted to documents sharing at least one vocabulary term with
// the query.
func (idx *Index) Search(query string, topK int) ([]SearchResult, error) {
	const op = "sparse.search"
	if topK <= 0 {
		return nil, vectorerr.Newf(op, vectorerr.InvalidArgument, "topK must be positive, got %d", topK)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	queryTerms := tokenize(query)
	if len(idx.docTermFreq) == 0 || len(queryTerms) == 0 {
		return nil, nil
	}
	avgdl := idx.avgDocLen()

	scores := make(map[string]float64)
	for _, term := range queryTerms {
		if _, inVocab := idx.vocabIndex[term]; !inVocab {
			continue
		}
		for docID := range idx.inverted[term] {
			tf := idx.docTermFreq[docID][term]
			scores[docID] += idx.score(term, tf, idx.docLength[docID], avgdl)
		}
	}

	results := make([]SearchResult, 0, len(scores))
	for id, s := range scores {
		results = append(results, SearchResult{ID: id, Score: float32(s)})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// EncodeDocument renders a document's BM25-weighted sparse vector in the
// engine's SparseTerm representation (strictly ascending, unique indices),
// suitable for storage on a Vector alongside its dense component.
func (idx *Index) EncodeDocument(id string) ([]vectortypes.SparseTerm, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	tf, ok := idx.docTermFreq[id]
	if !ok {
		return nil, vectorerr.Newf("sparse.encode_document", vectorerr.NotFound, "document %q not indexed", id)
	}
	avgdl := idx.avgDocLen()
	docLen := idx.docLength[id]

	terms := make([]vectortypes.SparseTerm, 0, len(tf))
	for term, count := range tf {
		vocabIdx, inVocab := idx.vocabIndex[term]
		if !inVocab {
			continue
		}
		weight := idx.score(term, count, docLen, avgdl)
		terms = append(terms, vectortypes.SparseTerm{Index: vocabIdx, Value: float32(weight)})
	}
	sort.Slice(terms, func(i, j int) bool { return terms[i].Index < terms[j].Index })
	return terms, nil
}

// DocumentFrequency returns df(t), the number of distinct documents
// containing term t, 0 if t was dropped or never seen.
func (idx *Index) DocumentFrequency(term string) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	t := strings.ToLower(term)
	if _, inVocab := idx.vocabIndex[t]; !inVocab {
		return 0
	}
	return idx.docFreq[t]
}

// VocabularySize returns the number of terms currently in the capped
// vocabulary.
func (idx *Index) VocabularySize() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.vocabTerms)
}

// DocumentCount returns the number of documents currently indexed.
func (idx *Index) DocumentCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docTermFreq)
}

// Documents snapshots every currently-indexed document's raw text, for the
// persistence layer to serialize and later replay through AddDocuments.
func (idx *Index) Documents() []Document {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	docs := make([]Document, 0, len(idx.texts))
	for id, text := range idx.texts {
		docs = append(docs, Document{ID: id, Text: text})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs
}
