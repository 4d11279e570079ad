package classifier

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/maltedev/stock-alert-bot/internal/fetcher"
	"github.com/maltedev/stock-alert-bot/internal/models"
)

var (
	whitespace  = regexp.MustCompile(`\s+`)
	leftInStock = regexp.MustCompile(`only (\d+) left in stock`)
)

var imageAttributes = []string{"src", "data-old-hires", "data-src"}

// Classify turns a fetched page into a verdict. It has no hidden state:
// the same page and profile always give the same result.
func Classify(page *fetcher.Page, profile *Profile) models.StockResult {
	doc, err := page.Document()
	if err != nil {
		return models.Indeterminate("unparseable page: " + err.Error())
	}
	return ClassifyDocument(doc, page.Title, pageBase(page), profile)
}

func ClassifyDocument(doc *goquery.Document, title, baseURL string, profile *Profile) models.StockResult {
	if block, ok := DetectBlock(doc, title); ok {
		return models.StockResult{
			Verdict: models.VerdictIndeterminate,
			Reason:  block.Reason(),
			Title:   title,
		}
	}

	var result models.StockResult
	switch profile.Kind {
	case KindButton:
		result = classifyButton(doc, profile)
	case KindText:
		result = classifyText(doc, profile)
	case KindMarketplace:
		result = classifyMarketplace(doc, profile)
	default:
		result = models.Indeterminate(fmt.Sprintf("unknown profile kind %q", profile.Kind))
	}

	result.Title = title
	result.ImageURL = ExtractImage(doc, profile.ImageSelectors, baseURL)
	return result
}

func classifyButton(doc *goquery.Document, profile *Profile) models.StockResult {
	if sel, ok := firstPresent(doc, profile.CartSelectors); ok {
		return models.StockResult{Verdict: models.VerdictInStock, Reason: "add to cart button found (" + sel + ")"}
	}
	return models.StockResult{Verdict: models.VerdictOutOfStock, Reason: "add to cart button not found"}
}

func classifyText(doc *goquery.Document, profile *Profile) models.StockResult {
	if hasText(doc, profile.StockText) {
		return models.StockResult{Verdict: models.VerdictInStock, Reason: fmt.Sprintf("%q text found", profile.StockText)}
	}
	return models.StockResult{Verdict: models.VerdictOutOfStock, Reason: fmt.Sprintf("%q text not found", profile.StockText)}
}

type region struct {
	role string
	text string
}

func classifyMarketplace(doc *goquery.Document, profile *Profile) models.StockResult {
	if sel, ok := firstPresent(doc, profile.CartSelectors); ok {
		return models.StockResult{Verdict: models.VerdictInStock, Reason: "purchase control found (" + sel + ")"}
	}

	regions := []region{
		{"availability", regionText(doc, profile.Regions.Availability)},
		{"delivery", regionText(doc, profile.Regions.Delivery)},
		{"seller", regionText(doc, profile.Regions.Seller)},
	}

	for _, r := range regions {
		for _, kw := range profile.OutOfStockKeywords {
			if r.text != "" && strings.Contains(r.text, strings.ToLower(kw)) {
				return models.StockResult{
					Verdict: models.VerdictOutOfStock,
					Reason:  fmt.Sprintf("%s says %q", r.role, kw),
				}
			}
		}
	}

	for _, r := range regions {
		if r.text == "" {
			continue
		}
		if m := leftInStock.FindStringSubmatch(r.text); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n >= 1 && n <= profile.lowStockMax() {
				return models.StockResult{
					Verdict:  models.VerdictInStock,
					Reason:   fmt.Sprintf("%s says %q", r.role, m[0]),
					LowStock: true,
				}
			}
		}
		for _, kw := range profile.InStockKeywords {
			if strings.Contains(r.text, strings.ToLower(kw)) {
				return models.StockResult{
					Verdict: models.VerdictInStock,
					Reason:  fmt.Sprintf("%s says %q", r.role, kw),
				}
			}
		}
	}

	return models.StockResult{Verdict: models.VerdictOutOfStock, Reason: "no stock indicators found"}
}

// ExtractImage returns the first non-empty image source, resolved against
// baseURL. Data URIs are skipped.
func ExtractImage(doc *goquery.Document, selectors []string, baseURL string) string {
	for _, sel := range selectors {
		var found string
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			for _, attr := range imageAttributes {
				v := strings.TrimSpace(s.AttrOr(attr, ""))
				if v != "" && !strings.HasPrefix(v, "data:") {
					found = v
					return false
				}
			}
			return true
		})
		if found != "" {
			return resolve(baseURL, found)
		}
	}
	return ""
}

func resolve(baseURL, ref string) string {
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if refURL.IsAbs() {
		return refURL.String()
	}
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return ref
	}
	return base.ResolveReference(refURL).String()
}

func firstPresent(doc *goquery.Document, selectors []string) (string, bool) {
	for _, sel := range selectors {
		if doc.Find(sel).Length() > 0 {
			return sel, true
		}
	}
	return "", false
}

func regionText(doc *goquery.Document, candidates []string) string {
	for _, sel := range candidates {
		if text := normalize(doc.Find(sel).Text()); text != "" {
			return text
		}
	}
	return ""
}

// hasText reports whether the visible text of the body contains literal,
// ignoring case and collapsing whitespace. Text split across inline
// elements counts as one run.
func hasText(doc *goquery.Document, literal string) bool {
	want := normalize(literal)
	if want == "" {
		return false
	}
	var b strings.Builder
	for _, n := range doc.Find("body").Nodes {
		visibleText(&b, n)
	}
	return strings.Contains(normalize(b.String()), want)
}

func visibleText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript, atom.Template:
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		visibleText(b, c)
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(whitespace.ReplaceAllString(s, " ")))
}

func pageBase(page *fetcher.Page) string {
	if page.FinalURL != "" {
		return page.FinalURL
	}
	return page.URL
}
