package scraper

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"
)

const (
	// DefaultRegionID is the id of the element holding the featured picture.
	DefaultRegionID = "mp-tfp"
	thumbSegment    = "/thumb/"
	trailingNavText = "Recently featured"
)

var creditMarkers = []string{"Photograph credit:", "Photograph:"}

// Extraction is what the source page says about today's picture.
type Extraction struct {
	Description string
	Credit      string
	RawImageRef string
	ImageURL    string // canonical full-resolution URL
}

// Extract reads the default featured picture region of doc.
func Extract(doc *html.Node, pageURL string) (*Extraction, error) {
	return ExtractRegion(doc, DefaultRegionID, pageURL)
}

// ExtractRegion reads the element with id regionID. pageURL resolves
// root-relative image references and may be empty.
func ExtractRegion(doc *html.Node, regionID, pageURL string) (*Extraction, error) {
	region := findByID(doc, regionID)
	if region == nil {
		return nil, fmt.Errorf("%w: element #%s not found, the page layout may have changed", ErrExtraction, regionID)
	}

	img := findFirstElement(region, "img")
	src := attr(img, "src")
	if img == nil || strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("%w: no image found in #%s", ErrExtraction, regionID)
	}

	ref, err := resolveImageRef(strings.TrimSpace(src), pageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: image reference %q: %w", ErrExtraction, src, err)
	}

	description, credit := splitCredit(normalizeText(textOf(region)))
	return &Extraction{
		Description: description,
		Credit:      credit,
		RawImageRef: ref,
		ImageURL:    CanonicalImageURL(ref),
	}, nil
}

// CanonicalImageURL maps a thumbnail URL to the full-resolution original:
// .../commons/thumb/a/a4/Name.jpg/300px-Name.jpg becomes .../commons/a/a4/Name.jpg.
// URLs without a thumbnail segment are returned unchanged.
func CanonicalImageURL(ref string) string {
	if !strings.Contains(ref, thumbSegment) {
		return ref
	}
	lastSlash := strings.LastIndex(ref, "/")
	if lastSlash <= 0 {
		return ref
	}
	return strings.Replace(ref[:lastSlash], thumbSegment, "/", 1)
}

func resolveImageRef(src, pageURL string) (string, error) {
	if strings.HasPrefix(src, "//") {
		return "https:" + src, nil
	}
	ref, err := url.Parse(src)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() || pageURL == "" {
		return src, nil
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

// splitCredit splits at whichever attribution marker comes first.
func splitCredit(text string) (description, credit string) {
	idx, marker := -1, ""
	for _, m := range creditMarkers {
		if i := strings.Index(text, m); i >= 0 && (idx < 0 || i < idx) {
			idx, marker = i, m
		}
	}
	if idx < 0 {
		return strings.TrimSpace(text), ""
	}

	description = strings.TrimSpace(text[:idx])
	credit = text[idx+len(marker):]
	if cut := strings.Index(credit, trailingNavText); cut >= 0 {
		credit = credit[:cut]
	}
	return description, strings.TrimSpace(credit)
}

func findByID(n *html.Node, id string) *html.Node {
	if n == nil {
		return nil
	}
	if n.Type == html.ElementNode && attr(n, "id") == id {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

func findFirstElement(n *html.Node, tag string) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && strings.EqualFold(c.Data, tag) {
			return c
		}
		if found := findFirstElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

var blockElements = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true, "br": true,
	"dd": true, "div": true, "dl": true, "dt": true, "figcaption": true, "figure": true,
	"footer": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"header": true, "hr": true, "li": true, "ol": true, "p": true, "section": true,
	"table": true, "td": true, "th": true, "tr": true, "ul": true,
}

// textOf concatenates the visible text below n, separating block elements
// with a space.
func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(cur *html.Node) {
		switch cur.Type {
		case html.TextNode:
			b.WriteString(cur.Data)
			return
		case html.ElementNode:
			switch strings.ToLower(cur.Data) {
			case "script", "style", "noscript":
				return
			}
		}
		block := cur.Type == html.ElementNode && blockElements[strings.ToLower(cur.Data)]
		if block {
			b.WriteByte(' ')
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			b.WriteByte(' ')
		}
	}
	walk(n)
	return b.String()
}

// normalizeText collapses whitespace runs, including non-breaking spaces, and
// applies NFC.
func normalizeText(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}
