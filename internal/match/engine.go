package match

import (
	"sort"
	"strings"

	"github.com/agext/levenshtein"
	"go.uber.org/zap"

	"github.com/wanga1712/tendermatch/internal/config"
	"github.com/wanga1712/tendermatch/internal/model"
	"github.com/wanga1712/tendermatch/internal/parser"
)

// Engine scores cells against a compiled catalog. It is read-only after
// construction and safe for concurrent use.
type Engine struct {
	cfg        config.MatchConfig
	patterns   []Pattern
	stop       []string
	additional []string
}

// NewEngine compiles the catalog and phrase lists once up front.
func NewEngine(cfg config.MatchConfig, products []string) *Engine {
	e := &Engine{
		cfg:      cfg,
		patterns: CompileCatalog(products),
	}
	for _, s := range cfg.StopPhrases {
		if s = normalize(s); s != "" {
			e.stop = append(e.stop, s)
		}
	}
	for _, s := range cfg.AdditionalPhrases {
		if s = normalize(s); s != "" {
			e.additional = append(e.additional, s)
		}
	}
	return e
}

// Patterns returns the number of compiled catalog patterns.
func (e *Engine) Patterns() int { return len(e.patterns) }

// MatchCell scores one cell against the full catalog and the alert-phrase
// list. A cell containing a stop-phrase yields nothing, even on an exact
// catalog hit.
func (e *Engine) MatchCell(cell parser.Cell, fileName string) []model.MatchCandidate {
	norm := normalize(cell.DisplayText)
	if norm == "" || e.containsStopPhrase(norm) {
		return nil
	}
	phrase := strings.Join(tokenize(norm), " ")
	if phrase == "" {
		return nil
	}

	var out []model.MatchCandidate
	for _, p := range e.patterns {
		score, ok := e.scorePattern(p, phrase)
		if !ok {
			continue
		}
		out = append(out, model.MatchCandidate{
			Product:     p.Product,
			Score:       score,
			FileName:    fileName,
			Sheet:       cell.Sheet,
			CellAddress: cell.Address,
			Row:         cell.Row,
			Column:      cell.Column,
			MatchedText: cell.DisplayText,
		})
	}

	for _, alert := range e.additional {
		if strings.Contains(norm, alert) {
			out = append(out, model.MatchCandidate{
				Product:            alert,
				Score:              e.cfg.FullMatchScore,
				FileName:           fileName,
				Sheet:              cell.Sheet,
				CellAddress:        cell.Address,
				Row:                cell.Row,
				Column:             cell.Column,
				MatchedText:        cell.DisplayText,
				IsAdditionalPhrase: true,
			})
		}
	}
	return out
}

// scorePattern computes the tiered score of one pattern against normalized,
// token-joined cell text. The second return is false when the cell falls
// below the partial tier and must be discarded.
func (e *Engine) scorePattern(p Pattern, phrase string) (float64, bool) {
	if strings.Contains(phrase, p.fullPhrase) {
		return e.cfg.FullMatchScore, true
	}

	cellTokens := strings.Fields(phrase)
	matched := 0
	for _, want := range p.tokens {
		if e.tokenPresent(want, phrase, cellTokens) {
			matched++
		}
	}
	ratio := float64(matched) / float64(len(p.tokens))

	switch {
	case ratio >= e.cfg.GoodRatio:
		span := 1 - e.cfg.GoodRatio
		score := e.cfg.GoodMatchFloor + (ratio-e.cfg.GoodRatio)/span*(e.cfg.FullMatchScore-e.cfg.GoodMatchFloor)
		// An all-tokens match that is not a phrase match stays below full.
		if score >= e.cfg.FullMatchScore {
			score = e.cfg.FullMatchScore - 1
		}
		return score, true
	case ratio > e.cfg.PartialRatio:
		// A bare half is not a majority, so the comparison is strict.
		span := e.cfg.GoodRatio - e.cfg.PartialRatio
		return e.cfg.PartialMatchFloor + (ratio-e.cfg.PartialRatio)/span*(e.cfg.GoodMatchFloor-e.cfg.PartialMatchFloor), true
	default:
		return 0, false
	}
}

// tokenPresent reports whether a pattern token occurs in the cell, either as
// a substring or as a near-identical token. The fuzzy leg absorbs Russian
// case endings and single-character typos.
func (e *Engine) tokenPresent(want, phrase string, cellTokens []string) bool {
	if strings.Contains(phrase, want) {
		return true
	}
	for _, have := range cellTokens {
		if levenshtein.Match(want, have, nil) >= e.cfg.TokenSimilarity {
			return true
		}
	}
	return false
}

func (e *Engine) containsStopPhrase(norm string) bool {
	for _, s := range e.stop {
		if strings.Contains(norm, s) {
			return true
		}
	}
	return false
}

// ResultSet accumulates candidates across every file of a tender, keeping
// only the best-scoring occurrence per product. Not safe for concurrent use;
// the orchestrator merges per-file sets under its own lock.
type ResultSet struct {
	best map[string]model.MatchCandidate
}

// NewResultSet returns an empty accumulator.
func NewResultSet() *ResultSet {
	return &ResultSet{best: make(map[string]model.MatchCandidate)}
}

// Add keeps the candidate only if it beats the current best for its product.
func (s *ResultSet) Add(c model.MatchCandidate) {
	cur, ok := s.best[c.Product]
	if !ok || c.Score > cur.Score {
		s.best[c.Product] = c
	}
}

// Merge folds another set into this one under the same best-wins rule.
func (s *ResultSet) Merge(other *ResultSet) {
	for _, c := range other.best {
		s.Add(c)
	}
}

// Len returns the number of distinct matched products.
func (s *ResultSet) Len() int { return len(s.best) }

// BestScore returns the highest catalog score in the set. Alert-phrase hits
// are excluded so they never inflate the persisted tier on their own.
func (s *ResultSet) BestScore() float64 {
	var best float64
	for _, c := range s.best {
		if !c.IsAdditionalPhrase && c.Score > best {
			best = c.Score
		}
	}
	return best
}

// Candidates returns the retained candidates, highest score first.
func (s *ResultSet) Candidates() []model.MatchCandidate {
	out := make([]model.MatchCandidate, 0, len(s.best))
	for _, c := range s.best {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Product < out[j].Product
	})
	return out
}

// MatchFile runs the engine over every cell of one document and returns the
// per-file best candidates. Parser failures are logged and yield an empty
// set so one broken file never aborts a tender.
func (e *Engine) MatchFile(path, fileName string) (*ResultSet, error) {
	set := NewResultSet()
	err := parser.IterCells(path, func(c parser.Cell) error {
		for _, cand := range e.MatchCell(c, fileName) {
			set.Add(cand)
		}
		return nil
	})
	if err != nil {
		zap.S().Warnw("file skipped by matcher", "file", fileName, "error", err)
		return NewResultSet(), err
	}
	return set, nil
}
