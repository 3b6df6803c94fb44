package enrich

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// maxPlainText bounds the text handed to the AI gateway. Keeping it small
// bounds both cost and latency of the summarization call.
const maxPlainText = 3000

// pageMetadata holds everything extracted from one fetched page.
type pageMetadata struct {
	Title         string
	OGImage       string
	OGDescription string
	Favicon       string
	PlainText     string
}

// extractMetadata walks a parsed HTML document and pulls out the fields the
// enrichment pipeline cares about. The parser tolerates malformed markup the
// way browsers do, and attribute order on meta/link tags is irrelevant.
func extractMetadata(doc *html.Node, pageURL *url.URL) pageMetadata {
	var meta pageMetadata
	var description string
	var faviconHref string

	var text strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			trimmed := strings.TrimSpace(n.Data)
			if trimmed != "" {
				if text.Len() > 0 {
					text.WriteString(" ")
				}
				text.WriteString(trimmed)
			}
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style":
				return
			case "title":
				if meta.Title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					meta.Title = strings.TrimSpace(n.FirstChild.Data)
				}
				// Title text is chrome, not page content.
				return
			case "meta":
				var property, name, content string
				for _, attr := range n.Attr {
					switch attr.Key {
					case "property":
						property = strings.ToLower(attr.Val)
					case "name":
						name = strings.ToLower(attr.Val)
					case "content":
						content = attr.Val
					}
				}
				if content != "" {
					switch {
					case property == "og:image" && meta.OGImage == "":
						meta.OGImage = content
					case property == "og:description" && meta.OGDescription == "":
						meta.OGDescription = content
					case name == "description" && description == "":
						description = content
					}
				}
			case "link":
				var rel, href string
				for _, attr := range n.Attr {
					switch attr.Key {
					case "rel":
						rel = strings.ToLower(attr.Val)
					case "href":
						href = attr.Val
					}
				}
				if faviconHref == "" && href != "" && (rel == "icon" || rel == "shortcut icon") {
					faviconHref = href
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if meta.OGDescription == "" {
		meta.OGDescription = description
	}
	meta.Favicon = resolveFavicon(faviconHref, pageURL)
	meta.PlainText = truncateRunes(collapseWhitespace(text.String()), maxPlainText)
	return meta
}

// resolveFavicon turns a favicon href into an absolute URL against the page's
// origin. Root-relative and bare-relative paths both resolve to the origin;
// a missing href defaults to /favicon.ico.
func resolveFavicon(href string, pageURL *url.URL) string {
	origin := pageURL.Scheme + "://" + pageURL.Host
	switch {
	case href == "":
		return origin + "/favicon.ico"
	case strings.HasPrefix(href, "http://"), strings.HasPrefix(href, "https://"):
		return href
	case strings.HasPrefix(href, "/"):
		return origin + href
	default:
		return origin + "/" + href
	}
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncateRunes caps s at max characters, never splitting a multibyte
// character.
func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	count := 0
	for i := range s {
		if count == max {
			return s[:i]
		}
		count++
	}
	return s
}
