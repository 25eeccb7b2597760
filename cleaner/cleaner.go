// Package cleaner post-processes captured documents: narrowing them with a
// CSS selector and converting them to article HTML, Markdown or plain text.
package cleaner

import (
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/PuerkitoBio/goquery"

	"github.com/use-agent/pagefetch/models"
)

// Output formats.
const (
	FormatHTML     = "html"
	FormatArticle  = "article"
	FormatMarkdown = "markdown"
	FormatText     = "text"
)

// Formats lists the accepted format names.
var Formats = []string{FormatHTML, FormatArticle, FormatMarkdown, FormatText}

// Cleaner converts rendered HTML into the requested format.
// The Markdown converter is created once and reused (goroutine-safe).
type Cleaner struct {
	mdConverter *converter.Converter
}

// NewCleaner initialises the Cleaner with a pre-configured Markdown converter.
func NewCleaner() *Cleaner {
	return &Cleaner{
		mdConverter: newMarkdownConverter(),
	}
}

// ValidFormat reports whether format is accepted. Empty means html.
func ValidFormat(format string) bool {
	if format == "" {
		return true
	}
	for _, f := range Formats {
		if f == format {
			return true
		}
	}
	return false
}

// Convert narrows body to selector (when set) and converts the result.
//
// Flow:
//  1. Selector: outer HTML of the matches; no match keeps the body.
//  2. Format:   html passes through, article runs readability, markdown
//     converts the HTML, text extracts the visible text.
func (c *Cleaner) Convert(body, sourceURL, format, selector string) (string, error) {
	// ── 1. Selector ─────────────────────────────────────────────────
	if strings.TrimSpace(selector) != "" {
		narrowed, err := ApplyCSSSelector(body, selector)
		if err != nil {
			return "", models.UsageError("invalid css selector %q: %v", selector, err)
		}
		body = narrowed
	}

	// ── 2. Format ───────────────────────────────────────────────────
	switch format {
	case FormatHTML, "":
		return body, nil
	case FormatArticle:
		article, _ := ExtractContent(body, sourceURL)
		return article.Content, nil
	case FormatMarkdown:
		md, err := ToMarkdown(c.mdConverter, body, sourceURL)
		if err != nil {
			return "", models.NewFetchError(models.ErrCodeConversion, "markdown conversion failed", err)
		}
		return md, nil
	case FormatText:
		return VisibleText(body), nil
	default:
		return "", models.UsageError("unknown format %q: want one of %v", format, Formats)
	}
}

var spaceRun = regexp.MustCompile(`[ \t\r\f\v]+`)
var blankLines = regexp.MustCompile(`\n\s*\n+`)

// VisibleText returns the text a reader would see: script, style and
// noscript are dropped and whitespace runs are collapsed.
func VisibleText(rawHTML string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return rawHTML
	}
	doc.Find("script, style, noscript, template").Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	text := spaceRun.ReplaceAllString(root.Text(), " ")
	text = blankLines.ReplaceAllString(text, "\n\n")

	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
