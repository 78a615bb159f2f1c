// Package extract applies CSS selector maps to fetched markup.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/scraperd/scraperd/internal/scraper"
)

// ContainerKey marks the selector that defines a repeating record
// boundary; the remaining selectors are resolved inside each container.
const ContainerKey = "container"

// ValidateSelectors compiles every selector in the map so that
// unparseable CSS is rejected at submission instead of matching nothing
// at extraction time.
func ValidateSelectors(selectors map[string]string) error {
	for field, sel := range selectors {
		if _, err := cascadia.Compile(sel); err != nil {
			return fmt.Errorf("%w: field %q selector %q", scraper.ErrInvalidSelector, field, sel)
		}
	}
	return nil
}

// Records extracts field maps from markup. A selector matching nothing
// yields an empty field rather than an error: partial results are still
// useful output. Only unparseable markup fails.
func Records(body []byte, selectors map[string]string) ([]scraper.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}

	if len(selectors) == 0 {
		return genericRecords(doc), nil
	}

	container, ok := selectors[ContainerKey]
	if !ok {
		record := fieldsOf(doc.Selection, selectors)
		if len(record) == 0 {
			return []scraper.Record{}, nil
		}
		return []scraper.Record{record}, nil
	}

	records := []scraper.Record{}
	doc.Find(container).Each(func(_ int, s *goquery.Selection) {
		record := fieldsOf(s, selectors)
		if len(record) > 0 {
			records = append(records, record)
		}
	})
	return records, nil
}

func fieldsOf(root *goquery.Selection, selectors map[string]string) scraper.Record {
	record := scraper.Record{}
	for field, sel := range selectors {
		if field == ContainerKey {
			continue
		}
		matches := root.Find(sel)
		if matches.Length() == 0 {
			continue
		}
		texts := make([]string, 0, matches.Length())
		matches.Each(func(_ int, m *goquery.Selection) {
			texts = append(texts, strings.TrimSpace(m.Text()))
		})
		record[field] = strings.Join(texts, "\n")
	}
	return record
}

// genericRecords is the no-selector fallback: articles, then list
// items, then main-content paragraphs, then the bare page title.
func genericRecords(doc *goquery.Document) []scraper.Record {
	records := []scraper.Record{}

	doc.Find("article, .post, .entry, .story").Each(func(_ int, s *goquery.Selection) {
		title := strings.TrimSpace(s.Find("h1, h2, h3, .title, .headline").First().Text())
		text := strings.TrimSpace(s.Find("p, .text, .body").First().Text())
		if title == "" && text == "" {
			return
		}
		record := scraper.Record{}
		if title != "" {
			record["title"] = title
		}
		if text != "" {
			record["text"] = text
		}
		records = append(records, record)
	})
	if len(records) > 0 {
		return records
	}

	items := doc.Find("li, .item, .quote")
	if items.Length() > 1 {
		items.EachWithBreak(func(i int, s *goquery.Selection) bool {
			if i >= 20 {
				return false
			}
			text := strings.TrimSpace(s.Text())
			if len(text) > 10 {
				records = append(records, scraper.Record{"text": text})
			}
			return true
		})
	}
	if len(records) > 0 {
		return records
	}

	doc.Find("main p, #content p, .content p").EachWithBreak(func(i int, s *goquery.Selection) bool {
		if i >= 10 {
			return false
		}
		text := strings.TrimSpace(s.Text())
		if len(text) > 20 {
			records = append(records, scraper.Record{"text": text})
		}
		return true
	})
	if len(records) > 0 {
		return records
	}

	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		records = append(records, scraper.Record{"title": title})
	}
	return records
}
