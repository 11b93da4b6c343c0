package scraper

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// extractFields applies every rule in the ruleset against rendered
// HTML, returning a value per field: a string, a []string when
// Multiple is set, or nil when nothing matched.
func extractFields(html string, rules Ruleset) (map[string]interface{}, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	data := make(map[string]interface{}, len(rules))
	for name, rule := range rules {
		sel := doc.Find(rule.Selector)
		if sel.Length() == 0 {
			data[name] = nil
			continue
		}

		if rule.Multiple {
			values := make([]string, 0, sel.Length())
			sel.Each(func(_ int, s *goquery.Selection) {
				values = append(values, fieldValue(s, rule.Attribute))
			})
			data[name] = values
			continue
		}

		data[name] = fieldValue(sel.First(), rule.Attribute)
	}

	return data, nil
}

func fieldValue(s *goquery.Selection, attribute string) string {
	if attribute != "" {
		v, _ := s.Attr(attribute)
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(s.Text())
}

func extractTitle(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}
