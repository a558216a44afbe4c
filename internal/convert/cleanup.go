package convert

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// unwantedPattern matches class and id fragments of page furniture worth
// stripping before rendering (navigation, ads, consent banners and the like).
var unwantedPattern = regexp.MustCompile(`(?i)header|footer|nav|navigation|navbar|sidebar|menu|\bads?\b|advertisement|banner|popup|modal|cookie|consent|gdpr|privacy-notice|social|shar(e|ing)|subscribe|newsletter|signup|comment|related|recommended|breadcrumb|pagination|masthead|site-header|site-footer|top-bar|bottom-bar|side-bar`)

// unwantedRoles are ARIA roles of elements stripped wholesale.
var unwantedRoles = []string{"banner", "navigation", "complementary", "contentinfo"}

// CleanHTML strips scripts and page furniture from an HTML document.
// On any parse failure the original input is returned unchanged.
func CleanHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}

	doc.Find("script, style, noscript, iframe").Remove()
	doc.Find("header, footer, nav, aside").Remove()

	doc.Find("[class]").Each(func(_ int, s *goquery.Selection) {
		if class, ok := s.Attr("class"); ok && unwantedPattern.MatchString(class) {
			s.Remove()
		}
	})
	doc.Find("[id]").Each(func(_ int, s *goquery.Selection) {
		if id, ok := s.Attr("id"); ok && unwantedPattern.MatchString(id) {
			s.Remove()
		}
	})

	for _, role := range unwantedRoles {
		doc.Find(`[role="` + role + `"]`).Remove()
	}

	out, err := doc.Html()
	if err != nil {
		return html
	}

	return out
}
