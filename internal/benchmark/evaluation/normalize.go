package evaluation

import (
	"regexp"
	"strings"
	"unicode"
)

// contractionRules expand common English contractions so references and
// hypotheses agree on word boundaries before scoring. Specific forms are
// listed before the generic suffix rules.
var contractionRules = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`won't`), "will not"},
	{regexp.MustCompile(`can't`), "can not"},
	{regexp.MustCompile(`let's`), "let us"},
	{regexp.MustCompile(`n't`), " not"},
	{regexp.MustCompile(`'re`), " are"},
	{regexp.MustCompile(`'s`), " is"},
	{regexp.MustCompile(`'d`), " would"},
	{regexp.MustCompile(`'ll`), " will"},
	{regexp.MustCompile(`'t`), " not"},
	{regexp.MustCompile(`'ve`), " have"},
	{regexp.MustCompile(`'m`), " am"},
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// Normalize applies the scoring text normalization: contraction expansion,
// lowercasing, punctuation removal, and whitespace collapsing.
func Normalize(s string) string {
	for _, rule := range contractionRules {
		s = rule.re.ReplaceAllString(s, rule.repl)
	}
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return -1
		}
		return r
	}, s)
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Tokenize splits a normalized string into words.
func Tokenize(s string) []string {
	return strings.Fields(s)
}
