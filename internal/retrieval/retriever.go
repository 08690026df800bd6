package retrieval

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/mpataki/analyst/internal/models"
)

// Retriever ranks corpus chunks against a query with BM25. It is read-only
// after construction and safe for concurrent use.
type Retriever struct {
	chunks []models.Document
	index  *okapi
}

// New loads every .md and .txt file under dir in filename order. A missing
// directory yields an empty retriever; unreadable files are skipped.
func New(dir string, log *zap.Logger) (*Retriever, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("retrieval")

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Warn("docs directory not found, retrieval disabled", zap.String("dir", dir))
			return NewFromDocuments(nil), nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".md", ".txt":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var chunks []models.Document
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			log.Warn("skipping unreadable document", zap.String("file", name), zap.Error(err))
			continue
		}
		chunks = append(chunks, ChunkDocument(name, string(data))...)
	}

	log.Info("corpus indexed", zap.Int("files", len(names)), zap.Int("chunks", len(chunks)))
	return NewFromDocuments(chunks), nil
}

// NewFromDocuments indexes already-chunked documents as given.
func NewFromDocuments(chunks []models.Document) *Retriever {
	corpus := make([][]string, len(chunks))
	for i, c := range chunks {
		corpus[i] = Tokenize(c.Content)
	}
	return &Retriever{
		chunks: chunks,
		index:  newOkapi(corpus),
	}
}

func (r *Retriever) Len() int {
	return len(r.chunks)
}

// Search returns at most k chunks ordered by descending score. Ties keep
// corpus order.
func (r *Retriever) Search(query string, k int) []models.Document {
	results := r.SearchScored(query, k)
	docs := make([]models.Document, len(results))
	for i, res := range results {
		docs[i] = res.Document
	}
	return docs
}

type Scored struct {
	models.Document
	Score float64
}

func (r *Retriever) SearchScored(query string, k int) []Scored {
	if k <= 0 || len(r.chunks) == 0 {
		return nil
	}

	scores := r.index.scores(Tokenize(query))
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	if k > len(order) {
		k = len(order)
	}
	out := make([]Scored, k)
	for i := 0; i < k; i++ {
		out[i] = Scored{Document: r.chunks[order[i]], Score: scores[order[i]]}
	}
	return out
}
