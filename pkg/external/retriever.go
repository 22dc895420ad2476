package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/text/unicode/norm"

	"github.com/ctgenie-cds-server/internal/domain"
)

// PassagesFile is the structured passage list read from an index directory.
const PassagesFile = "passages.json"

// RetrieverConfig tunes the local index retriever
type RetrieverConfig struct {
	CacheSize       int
	MaxPassageChars int
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// passageIndex is the in-memory term index of one directory.
type passageIndex struct {
	passages []domain.Passage
	terms    []map[string]int
	docFreq  map[string]int
}

// LocalIndexRetriever searches reference passages stored in a local directory.
// Loaded indexes and query results are kept in LRU caches; index loading is
// guarded by a circuit breaker so a broken directory stops being re-read.
type LocalIndexRetriever struct {
	cfg     RetrieverConfig
	logger  *logrus.Logger
	indexes *lru.Cache[string, *passageIndex]
	results *lru.Cache[string, []domain.Passage]
	breaker *gobreaker.CircuitBreaker
}

// NewLocalIndexRetriever creates a new retriever
func NewLocalIndexRetriever(cfg RetrieverConfig, logger *logrus.Logger) (*LocalIndexRetriever, error) {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 128
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 3
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	indexes, err := lru.New[string, *passageIndex](8)
	if err != nil {
		return nil, fmt.Errorf("failed to create index cache: %w", err)
	}
	results, err := lru.New[string, []domain.Passage](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create result cache: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "reference-index",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &LocalIndexRetriever{
		cfg:     cfg,
		logger:  logger,
		indexes: indexes,
		results: results,
		breaker: breaker,
	}, nil
}

// Available reports whether indexDir is an existing directory.
func (r *LocalIndexRetriever) Available(indexDir string) bool {
	if strings.TrimSpace(indexDir) == "" {
		return false
	}
	info, err := os.Stat(indexDir)
	return err == nil && info.IsDir()
}

// Retrieve returns up to k passages ranked by lexical relevance to the evidence.
// Failures are reported as *domain.RetrievalError.
func (r *LocalIndexRetriever) Retrieve(ctx context.Context, indexDir string, evidence *domain.EvidenceStructure, k int) ([]domain.Passage, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.RetrievalError{IndexDir: indexDir, Err: err}
	}
	if k <= 0 {
		k = 5
	}

	query := tokenize(evidenceQuery(evidence))
	cacheKey := indexDir + "|" + strconv.Itoa(k) + "|" + strings.Join(query, " ")
	if cached, ok := r.results.Get(cacheKey); ok {
		return cached, nil
	}

	idx, err := r.index(indexDir)
	if err != nil {
		return nil, &domain.RetrievalError{IndexDir: indexDir, Err: err}
	}

	passages := idx.search(query, k)
	r.results.Add(cacheKey, passages)

	r.logger.WithFields(logrus.Fields{
		"index_dir": indexDir,
		"terms":     len(query),
		"passages":  len(passages),
	}).Debug("Retrieved reference passages")

	return passages, nil
}

func (r *LocalIndexRetriever) index(indexDir string) (*passageIndex, error) {
	if idx, ok := r.indexes.Get(indexDir); ok {
		return idx, nil
	}

	result, err := r.breaker.Execute(func() (interface{}, error) {
		return loadIndex(indexDir, r.cfg.MaxPassageChars)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("reference index unavailable (circuit breaker open): %w", err)
		}
		return nil, err
	}

	idx := result.(*passageIndex)
	r.indexes.Add(indexDir, idx)
	return idx, nil
}

// loadIndex reads passages.json when present, otherwise every .txt and .md file
// split into blank-line separated paragraphs.
func loadIndex(dir string, maxChars int) (*passageIndex, error) {
	var passages []domain.Passage

	data, err := os.ReadFile(filepath.Join(dir, PassagesFile))
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &passages); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", PassagesFile, err)
		}
	case errors.Is(err, os.ErrNotExist):
		passages, err = loadTextPassages(dir)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("failed to read %s: %w", PassagesFile, err)
	}

	if len(passages) == 0 {
		return nil, fmt.Errorf("no passages found in %s", dir)
	}

	idx := &passageIndex{
		passages: make([]domain.Passage, 0, len(passages)),
		docFreq:  make(map[string]int),
	}
	for i, p := range passages {
		p.Text = truncatePassage(norm.NFKC.String(strings.TrimSpace(p.Text)), maxChars)
		if p.Text == "" {
			continue
		}
		if p.ID == "" {
			p.ID = strconv.Itoa(i + 1)
		}
		tf := make(map[string]int)
		for _, term := range terms(p.Text) {
			tf[term]++
		}
		for term := range tf {
			idx.docFreq[term]++
		}
		idx.passages = append(idx.passages, p)
		idx.terms = append(idx.terms, tf)
	}
	return idx, nil
}

func loadTextPassages(dir string) ([]domain.Passage, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read index directory: %w", err)
	}

	var passages []domain.Passage
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".txt" && ext != ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}
		for n, para := range strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n\n") {
			if strings.TrimSpace(para) == "" {
				continue
			}
			passages = append(passages, domain.Passage{
				ID:     fmt.Sprintf("%s#%d", e.Name(), n+1),
				Source: e.Name(),
				Text:   para,
			})
		}
	}
	return passages, nil
}

// search scores passages with a smoothed TF-IDF sum over the query terms.
// Ties keep index order.
func (idx *passageIndex) search(query []string, k int) []domain.Passage {
	n := float64(len(idx.passages))
	type scored struct {
		i     int
		score float64
	}
	var hits []scored
	for i, tf := range idx.terms {
		score := 0.0
		for _, term := range query {
			if c := tf[term]; c > 0 {
				idf := math.Log(1 + n/float64(idx.docFreq[term]))
				score += (1 + math.Log(float64(c))) * idf
			}
		}
		if score > 0 {
			hits = append(hits, scored{i: i, score: score})
		}
	}

	sort.SliceStable(hits, func(a, b int) bool { return hits[a].score > hits[b].score })
	if len(hits) > k {
		hits = hits[:k]
	}

	out := make([]domain.Passage, len(hits))
	for j, h := range hits {
		p := idx.passages[h.i]
		p.Score = math.Round(h.score*1000) / 1000
		out[j] = p
	}
	return out
}

// evidenceQuery joins the label and feature names into the search text.
func evidenceQuery(e *domain.EvidenceStructure) string {
	if e == nil {
		return ""
	}
	parts := []string{e.Label}
	for _, f := range e.TopFeatures {
		parts = append(parts, f.NameDoctor, f.NameRaw)
	}
	return strings.Join(parts, " ")
}

// terms NFKC-normalizes and lowercases text, then splits it into letter/digit
// runs of two or more characters.
func terms(text string) []string {
	text = strings.ToLower(norm.NFKC.String(text))
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= 2 {
			out = append(out, f)
		}
	}
	return out
}

// tokenize returns the distinct terms of text in first-seen order.
func tokenize(text string) []string {
	all := terms(text)
	seen := make(map[string]bool, len(all))
	out := make([]string, 0, len(all))
	for _, t := range all {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func truncatePassage(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
