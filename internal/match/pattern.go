// Package match scores document cell text against a fixed product catalog.
// Each catalog name is compiled once into a pattern; cells are then compared
// token-by-token with fuzzy tolerance for declensions and typos.
package match

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

var (
	// parentheticalRe drops bracketed clarifications from catalog names:
	// "Контейнер (оцинкованный) 240л" matches the same as without them.
	parentheticalRe = regexp.MustCompile(`\([^)]*\)`)
	tokenRe         = regexp.MustCompile(`[0-9a-zа-яё]+`)
	digitsRe        = regexp.MustCompile(`^[0-9]+$`)
)

// minTokenLen filters out prepositions and unit abbreviations that would
// inflate the match ratio without distinguishing products.
const minTokenLen = 3

// Pattern is the precomputed match form of one catalog product name.
type Pattern struct {
	Product    string
	fullPhrase string
	tokens     []string
}

// Tokens returns the distinguishing tokens of the pattern.
func (p Pattern) Tokens() []string { return p.tokens }

// NewPattern compiles a catalog product name into a matchable pattern.
func NewPattern(product string) Pattern {
	cleaned := parentheticalRe.ReplaceAllString(product, " ")
	folded := normalize(cleaned)

	seen := make(map[string]struct{})
	var tokens []string
	for _, tok := range tokenRe.FindAllString(folded, -1) {
		if utf8.RuneCountInString(tok) < minTokenLen || digitsRe.MatchString(tok) {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		tokens = append(tokens, tok)
	}

	return Pattern{
		Product:    product,
		fullPhrase: strings.Join(tokenRe.FindAllString(folded, -1), " "),
		tokens:     tokens,
	}
}

// CompileCatalog compiles every product name, skipping ones that produce no
// usable tokens.
func CompileCatalog(products []string) []Pattern {
	patterns := make([]Pattern, 0, len(products))
	for _, name := range products {
		p := NewPattern(name)
		if len(p.tokens) == 0 {
			continue
		}
		patterns = append(patterns, p)
	}
	return patterns
}

// normalize case-folds text and collapses ё to е, the usual registry
// spelling variance. A fresh caser per call: cases.Caser is stateful and the
// engine runs on multiple goroutines.
func normalize(s string) string {
	return strings.ReplaceAll(cases.Fold().String(s), "ё", "е")
}

// tokenize splits normalized cell text into comparison tokens. Unlike
// pattern tokens, short and numeric tokens are kept so "240" can still be
// compared against a pattern's "240л".
func tokenize(normalized string) []string {
	return tokenRe.FindAllString(normalized, -1)
}
