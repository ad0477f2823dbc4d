package extract

import (
	"regexp"
	"strings"
)

// extractPlain returns content as a string; invalid UTF-8 becomes U+FFFD.
func extractPlain(content []byte) (string, error) {
	return strings.ToValidUTF8(string(content), "\uFFFD"), nil
}

var (
	mdFence    = regexp.MustCompile("(?m)^[ \\t]*(```|~~~).*$")
	mdHeading  = regexp.MustCompile(`(?m)^[ \t]{0,3}#{1,6}[ \t]+`)
	mdQuote    = regexp.MustCompile(`(?m)^[ \t]{0,3}>[ \t]?`)
	mdBullet   = regexp.MustCompile(`(?m)^[ \t]*([-*+]|\d+\.)[ \t]+`)
	mdImage    = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	mdLink     = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	mdEmphasis = regexp.MustCompile(`(\*\*|__|\*|_|~~|` + "`" + `)([^*_~\n` + "`" + `]+)(\*\*|__|\*|_|~~|` + "`" + `)`)
	htmlTag    = regexp.MustCompile(`<[^<>]+>`)
)

// extractMarkdown strips markdown syntax and inline HTML, keeping the readable text.
func extractMarkdown(content []byte) (string, error) {
	text, _ := extractPlain(content)
	text = mdFence.ReplaceAllString(text, "")
	text = mdImage.ReplaceAllString(text, "$1")
	text = mdLink.ReplaceAllString(text, "$1")
	text = mdHeading.ReplaceAllString(text, "")
	text = mdQuote.ReplaceAllString(text, "")
	text = mdBullet.ReplaceAllString(text, "")
	text = mdEmphasis.ReplaceAllString(text, "$2")
	text = htmlTag.ReplaceAllString(text, "")
	return strings.TrimSpace(text), nil
}
