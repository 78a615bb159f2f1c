// Package detector decides when a page needs a browser render pass.
package detector

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Weights applied to each signal when accumulating the render score.
// SPA frameworks and empty root containers dominate; the rest nudge.
const (
	weightFramework      = 0.30
	weightEmptyContainer = 0.25
	weightAJAX           = 0.15
	weightDOMMutation    = 0.10
	weightLoading        = 0.10
	weightScriptBulk     = 0.05
	weightContentRatio   = 0.05
)

var frameworkMarkers = [][]byte{
	[]byte("react-dom"),
	[]byte("data-reactroot"),
	[]byte("__next"),
	[]byte("__NUXT__"),
	[]byte("ng-app"),
	[]byte("ng-controller"),
	[]byte("v-cloak"),
	[]byte("new Vue("),
	[]byte("_svelte"),
	[]byte("ember.js"),
}

var ajaxMarkers = [][]byte{
	[]byte("XMLHttpRequest"),
	[]byte("fetch("),
	[]byte("axios."),
	[]byte("$.ajax"),
	[]byte("await fetch"),
}

var mutationMarkers = [][]byte{
	[]byte("document.createElement"),
	[]byte("appendChild"),
	[]byte("innerHTML ="),
	[]byte("innerHTML="),
}

var loadingClassRe = regexp.MustCompile(`(?i)\b(loading|spinner|skeleton|placeholder)\b`)

// rootContainerSelectors name elements that SPA frameworks mount into.
var rootContainerSelectors = []string{"#root", "#app", "main", "[data-reactroot]"}

// Heuristic scores markup for signals that content is materialized by
// client-side script. Pure and deterministic; no I/O.
type Heuristic struct {
	Threshold float64
}

// New creates a Heuristic with the given decision threshold. Zero means
// the default of 0.6.
func New(threshold float64) *Heuristic {
	if threshold <= 0 {
		threshold = 0.6
	}
	return &Heuristic{Threshold: threshold}
}

// NeedsRender reports whether the accumulated score crosses the
// threshold. Ties go to the static path. Empty markup always routes to
// the browser: it cannot be distinguished from a render-blocked page.
func (h *Heuristic) NeedsRender(body []byte, headers map[string][]string) bool {
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	return h.Score(body, headers) > h.Threshold
}

// Score computes the weighted render score in [0, 1].
func (h *Heuristic) Score(body []byte, _ map[string][]string) float64 {
	score := 0.0

	if matchAny(body, frameworkMarkers) {
		score += weightFramework
	}
	if matchAny(body, ajaxMarkers) {
		score += weightAJAX
	}
	if matchAny(body, mutationMarkers) {
		score += weightDOMMutation
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		// Unparseable markup keeps only the byte-level signals.
		return clamp(score)
	}

	if hasEmptyRootContainer(doc) {
		score += weightEmptyContainer
	}
	if doc.Find("[class]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		class, _ := s.Attr("class")
		return loadingClassRe.MatchString(class)
	}).Length() > 0 {
		score += weightLoading
	}

	scriptBytes, textBytes := contentVolumes(doc)
	if scriptBytes > 5000 {
		score += weightScriptBulk
	}
	if textBytes == 0 && scriptBytes > 0 {
		score += weightContentRatio
	} else if textBytes > 0 && float64(scriptBytes)/float64(scriptBytes+textBytes) > 0.3 {
		score += weightContentRatio
	}

	return clamp(score)
}

func matchAny(body []byte, markers [][]byte) bool {
	for _, m := range markers {
		if bytes.Contains(body, m) {
			return true
		}
	}
	return false
}

// hasEmptyRootContainer reports a mount point with essentially no
// server-rendered children, the strongest single hint of an SPA shell.
func hasEmptyRootContainer(doc *goquery.Document) bool {
	for _, sel := range rootContainerSelectors {
		found := false
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := strings.TrimSpace(s.Text())
			if len(text) < 50 && s.Children().Length() < 3 {
				found = true
				return false
			}
			return true
		})
		if found {
			return true
		}
	}
	return false
}

func contentVolumes(doc *goquery.Document) (scriptBytes, textBytes int) {
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		scriptBytes += len(s.Text())
	})
	body := doc.Find("body").Clone()
	body.Find("script").Remove()
	textBytes = len(strings.TrimSpace(body.Text()))
	return scriptBytes, textBytes
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}
