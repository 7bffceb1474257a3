package artifact

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jmespath/go-jmespath"
)

// DefaultSelectorCacheSize bounds the memoized selector caches.
const DefaultSelectorCacheSize = 1000

var (
	// field ~ contains(@, 'x')  =>  contains(field, 'x')
	tildeContainsRe = regexp.MustCompile(`([A-Za-z_@][\w.\[\]@]*)\s*~\s*contains\(\s*@\s*,\s*('[^']*'|"[^"]*")\s*\)`)
	// == "x"  =>  == 'x'
	comparatorLiteralRe = regexp.MustCompile(`(==|!=|<=|>=|<|>)\s*"([^"]*)"`)
	// contains(field, "x")  =>  contains(field, 'x')
	containsLiteralRe = regexp.MustCompile(`contains\(\s*([^,()]+?)\s*,\s*"([^"]*)"\s*\)`)
)

// SanitizeSelector rewrites common authoring mistakes into valid JMESPath.
// Double-quoted strings are quoted identifiers in JMESPath, so literals on
// the right of a comparator or inside contains() are turned into raw string
// literals.
func SanitizeSelector(expr string) string {
	expr = strings.TrimSpace(expr)
	expr = tildeContainsRe.ReplaceAllStringFunc(expr, func(m string) string {
		sub := tildeContainsRe.FindStringSubmatch(m)
		return fmt.Sprintf("contains(%s, %s)", sub[1], singleQuote(strings.Trim(sub[2], `'"`)))
	})
	expr = comparatorLiteralRe.ReplaceAllStringFunc(expr, func(m string) string {
		sub := comparatorLiteralRe.FindStringSubmatch(m)
		return sub[1] + singleQuote(sub[2])
	})
	expr = containsLiteralRe.ReplaceAllStringFunc(expr, func(m string) string {
		sub := containsLiteralRe.FindStringSubmatch(m)
		return fmt.Sprintf("contains(%s, %s)", sub[1], singleQuote(sub[2]))
	})
	return expr
}

func singleQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}

// Selectors evaluates JMESPath selectors with memoized sanitization and
// compilation. It is safe for concurrent use.
type Selectors struct {
	sanitized *lru.Cache[string, string]
	compiled  *lru.Cache[string, *jmespath.JMESPath]
}

// NewSelectors returns a selector evaluator whose caches hold at most size
// entries each (DefaultSelectorCacheSize when size <= 0).
func NewSelectors(size int) *Selectors {
	if size <= 0 {
		size = DefaultSelectorCacheSize
	}
	sanitized, _ := lru.New[string, string](size)
	compiled, _ := lru.New[string, *jmespath.JMESPath](size)
	return &Selectors{sanitized: sanitized, compiled: compiled}
}

// Sanitize returns the memoized SanitizeSelector result for expr.
func (s *Selectors) Sanitize(expr string) string {
	if out, ok := s.sanitized.Get(expr); ok {
		return out
	}
	out := SanitizeSelector(expr)
	s.sanitized.Add(expr, out)
	return out
}

// Search sanitizes and evaluates expr against doc. Composite documents are
// normalized through encoding/json so typed tool results query like JSON.
func (s *Selectors) Search(expr string, doc any) (any, error) {
	clean := s.Sanitize(expr)
	jp, ok := s.compiled.Get(clean)
	if !ok {
		var err error
		jp, err = jmespath.Compile(clean)
		if err != nil {
			return nil, fmt.Errorf("compile selector %q: %w", clean, err)
		}
		s.compiled.Add(clean, jp)
	}

	data, err := toDocument(doc)
	if err != nil {
		return nil, err
	}
	out, err := jp.Search(data)
	if err != nil {
		return nil, fmt.Errorf("evaluate selector %q: %w", clean, err)
	}
	return out, nil
}

// Len reports the number of memoized sanitized selectors.
func (s *Selectors) Len() int { return s.sanitized.Len() }

func toDocument(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, float64:
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode selector document: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode selector document: %w", err)
	}
	return out, nil
}
