package transcribe

import (
	"strings"
	"sync/atomic"
	"unicode"
	"unicode/utf8"
)

// DefaultFillers are the backchannel tokens rejected by default.
var DefaultFillers = []string{
	"嗯", "啊", "哈", "对", "是的", "好的", "okay", "噢", "唔", "嗯嗯", "啊啊", "哎",
}

// MaxFillerTokens is the longest filler-only text that is still rejected.
const MaxFillerTokens = 5

// Filter decides whether recognised text carries content. The vocabulary
// can be swapped at runtime with [Filter.SetTokens].
type Filter struct {
	vocab atomic.Pointer[vocabulary]
}

type vocabulary struct {
	tokens  map[string]bool
	single  map[rune]bool
	longest int
}

// NewFilter returns a filter over tokens, or [DefaultFillers] when tokens is
// empty.
func NewFilter(tokens []string) *Filter {
	f := &Filter{}
	f.SetTokens(tokens)
	return f
}

// SetTokens replaces the filler vocabulary. Tokens are normalised like
// recognised text.
func (f *Filter) SetTokens(tokens []string) {
	if len(tokens) == 0 {
		tokens = DefaultFillers
	}
	v := &vocabulary{tokens: make(map[string]bool), single: make(map[rune]bool)}
	for _, t := range tokens {
		t = normalize(t)
		if t == "" {
			continue
		}
		v.tokens[t] = true
		n := utf8.RuneCountInString(t)
		if n == 1 {
			r, _ := utf8.DecodeRuneInString(t)
			v.single[r] = true
		}
		v.longest = max(v.longest, n)
	}
	f.vocab.Store(v)
}

// Meaningful reports whether text should become an utterance. Empty text is
// rejected, as is text that splits entirely into at most [MaxFillerTokens]
// filler tokens or consists only of single-character fillers.
func (f *Filter) Meaningful(text string) bool {
	norm := normalize(text)
	if norm == "" {
		return false
	}
	v := f.vocab.Load()

	allSingle := true
	for _, r := range norm {
		if !v.single[r] {
			allSingle = false
			break
		}
	}
	if allSingle {
		return false
	}

	n, ok := v.segment(norm)
	return !ok || n > MaxFillerTokens
}

// segment splits s into the fewest filler tokens. ok is false when s cannot
// be covered by fillers at all.
func (v *vocabulary) segment(s string) (int, bool) {
	runes := []rune(s)
	const inf = int(^uint(0) >> 1)
	best := make([]int, len(runes)+1)
	for i := 1; i <= len(runes); i++ {
		best[i] = inf
		for l := 1; l <= v.longest && l <= i; l++ {
			if best[i-l] == inf || !v.tokens[string(runes[i-l:i])] {
				continue
			}
			best[i] = min(best[i], best[i-l]+1)
		}
	}
	if best[len(runes)] == inf {
		return 0, false
	}
	return best[len(runes)], true
}

// normalize lowercases s and drops whitespace, punctuation and symbols.
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
