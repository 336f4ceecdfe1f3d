package scrape

import (
	"html"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

// MaxLinks caps the links returned for one page.
const MaxLinks = 150

// noiseSelector lists elements dropped before text conversion.
const noiseSelector = "script, style, noscript, template, iframe, svg, .cookie-banner, .popup"

// parsedPage is the result of converting an HTML document.
type parsedPage struct {
	Title    string
	Markdown string
	Links    []string
}

// parseHTML converts an HTML document into a title, a light markdown
// rendering of its visible content and up to maxLinks absolute links.
func parseHTML(src, pageURL string, maxLinks int) (*parsedPage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return nil, eris.Wrap(err, "parse html")
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, eris.Wrap(err, "parse page url")
	}

	// Links are read before noise removal so navigation menus count.
	links := extractLinks(doc, base, maxLinks)
	title := strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find(noiseSelector).Remove()
	return &parsedPage{
		Title:    title,
		Markdown: toMarkdown(doc.Find("body")),
		Links:    links,
	}, nil
}

// extractLinks returns deduplicated absolute http(s) links in document
// order, stopping at maxLinks.
func extractLinks(doc *goquery.Document, base *url.URL, maxLinks int) []string {
	if maxLinks <= 0 || maxLinks > MaxLinks {
		maxLinks = MaxLinks
	}

	seen := make(map[string]bool)
	var links []string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return true
		}
		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return true
		}
		abs.Fragment = ""
		link := strings.TrimSuffix(abs.String(), "/")
		if seen[link] {
			return true
		}
		seen[link] = true
		links = append(links, link)
		return len(links) < maxLinks
	})
	return links
}

// toMarkdown renders block elements as markdown lines: headings, list
// items, paragraphs and table rows. Inline markup is flattened to text.
func toMarkdown(root *goquery.Selection) string {
	var b strings.Builder
	root.Find("h1, h2, h3, h4, h5, h6, p, li, tr, blockquote, dt, dd").Each(func(_ int, s *goquery.Selection) {
		// Nested blocks are emitted by their own match.
		if s.Find("p, li, tr").Length() > 0 && !s.Is("tr") {
			return
		}
		text := collapseSpace(s.Text())
		if s.Is("tr") {
			var cells []string
			s.Find("th, td").Each(func(_ int, c *goquery.Selection) {
				cells = append(cells, collapseSpace(c.Text()))
			})
			text = "| " + strings.Join(cells, " | ") + " |"
		}
		if text == "" {
			return
		}
		switch goquery.NodeName(s) {
		case "h1":
			b.WriteString("# ")
		case "h2":
			b.WriteString("## ")
		case "h3", "h4", "h5", "h6":
			b.WriteString("### ")
		case "li", "dd":
			b.WriteString("- ")
		case "blockquote":
			b.WriteString("> ")
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	})

	md := strings.TrimSpace(b.String())
	if md == "" {
		// Pages built from bare divs still carry text.
		md = collapseSpace(root.Text())
	}
	return md
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// maxStripPasses bounds how many layers of entity encoding are unwrapped.
const maxStripPasses = 4

// StripMarkup reduces an HTML fragment to its visible text. Script and
// style content and all attributes, including on* handlers, are dropped.
// Entity-encoded markup is decoded and stripped again until the text is
// stable; text still carrying markup after maxStripPasses is escaped.
func StripMarkup(s string) string {
	for range maxStripPasses {
		next := stripOnce(s)
		if next == s {
			return s
		}
		s = next
	}
	if strings.ContainsAny(s, "<&") {
		return html.EscapeString(s)
	}
	return s
}

func stripOnce(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<body>" + s + "</body>"))
	if err != nil {
		return html.EscapeString(s)
	}
	doc.Find("script, style, noscript, template, iframe, object, embed").Remove()
	return strings.TrimSpace(doc.Find("body").Text())
}

// truncate caps s at n bytes on a rune boundary.
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
