package executor

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/flowforge/browser-runner/internal/browser"
)

// maxGoalChars caps how much page text each extraction goal prompt includes.
const maxGoalChars = 8000

// contentPass extracts page content with goquery plus optional per-goal model
// extraction. Goal failures are captured per goal.
func (e *ScanExecutor) contentPass(ctx context.Context, doc *goquery.Document, goals []string) (map[string]any, error) {
	data := map[string]any{
		"title": strings.TrimSpace(doc.Find("title").First().Text()),
	}
	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		data["meta_description"] = desc
	}

	var headings []map[string]string
	doc.Find("h1, h2, h3").Each(func(_ int, s *goquery.Selection) {
		headings = append(headings, map[string]string{
			"level": goquery.NodeName(s),
			"text":  strings.TrimSpace(s.Text()),
		})
	})
	data["headings"] = headings

	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && len(links) < 50 {
			links = append(links, href)
		}
	})
	data["link_count"] = doc.Find("a[href]").Length()
	data["links"] = links
	data["image_count"] = doc.Find("img").Length()

	if len(goals) > 0 {
		data["goals"] = e.extractGoals(ctx, doc, goals)
	}
	return data, nil
}

// extractGoals asks the model to answer each extraction goal from the page
// text. A failed goal records its error and does not stop the rest.
func (e *ScanExecutor) extractGoals(ctx context.Context, doc *goquery.Document, goals []string) []map[string]string {
	text := collapseWhitespace(doc.Find("body").Text())
	if len(text) > maxGoalChars {
		text = text[:maxGoalChars]
	}

	out := make([]map[string]string, 0, len(goals))
	for _, goal := range goals {
		entry := map[string]string{"goal": goal}
		prompt := fmt.Sprintf(
			"Extract the following from the page text below. Answer concisely with only the extracted information, or \"not found\".\n\nGoal: %s\n\nPage text:\n%s",
			goal, text,
		)
		answer, err := e.llm.Complete(ctx, prompt)
		if err != nil {
			entry["error"] = err.Error()
		} else {
			entry["value"] = strings.TrimSpace(answer)
		}
		out = append(out, entry)
	}
	return out
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// structurePass reports forms, clickable elements, DOM depth, and detected
// technologies.
func (e *ScanExecutor) structurePass(ctx context.Context, sess browser.Session, doc *goquery.Document) (map[string]any, error) {
	var forms []map[string]any
	doc.Find("form").Each(func(_ int, s *goquery.Selection) {
		form := map[string]any{
			"inputs": s.Find("input, select, textarea").Length(),
		}
		if action, ok := s.Attr("action"); ok {
			form["action"] = action
		}
		if method, ok := s.Attr("method"); ok {
			form["method"] = strings.ToUpper(method)
		}
		forms = append(forms, form)
	})

	data := map[string]any{
		"forms":           forms,
		"form_count":      len(forms),
		"clickable_count": doc.Find("a[href], button, input[type=submit], input[type=button], [onclick]").Length(),
		"technologies":    detectTechnologies(doc),
	}

	var depth int
	if err := sess.Evaluate(ctx, domDepthExpr, &depth); err != nil {
		return nil, fmt.Errorf("measure dom depth: %w", err)
	}
	data["dom_depth"] = depth
	return data, nil
}

const domDepthExpr = `(() => {
	let max = 0;
	const walk = (node, depth) => {
		if (depth > max) max = depth;
		for (const child of node.children) walk(child, depth + 1);
	};
	walk(document.documentElement, 1);
	return max;
})()`

// detectTechnologies infers frameworks from markers in the rendered DOM.
func detectTechnologies(doc *goquery.Document) []string {
	var techs []string
	add := func(name string) {
		for _, t := range techs {
			if t == name {
				return
			}
		}
		techs = append(techs, name)
	}

	if gen, ok := doc.Find(`meta[name="generator"]`).Attr("content"); ok {
		add(gen)
	}
	markers := map[string]string{
		"react":      "React",
		"vue":        "Vue",
		"angular":    "Angular",
		"jquery":     "jQuery",
		"_next":      "Next.js",
		"wp-content": "WordPress",
	}
	doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		lower := strings.ToLower(src)
		for marker, name := range markers {
			if strings.Contains(lower, marker) {
				add(name)
			}
		}
	})
	if doc.Find("[data-reactroot], #__next").Length() > 0 {
		add("React")
	}
	if doc.Find("[ng-app], [ng-version]").Length() > 0 {
		add("Angular")
	}
	return techs
}

// accessibilityPass reports alt-text coverage, heading discipline, and ARIA
// usage.
func (e *ScanExecutor) accessibilityPass(doc *goquery.Document) (map[string]any, error) {
	images := doc.Find("img").Length()
	withoutAlt := 0
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		if alt, ok := s.Attr("alt"); !ok || strings.TrimSpace(alt) == "" {
			withoutAlt++
		}
	})

	unlabeledInputs := 0
	doc.Find("input:not([type=hidden]), select, textarea").Each(func(_ int, s *goquery.Selection) {
		if _, ok := s.Attr("aria-label"); ok {
			return
		}
		id, ok := s.Attr("id")
		if !ok || doc.Find(fmt.Sprintf("label[for=%q]", id)).Length() == 0 {
			unlabeledInputs++
		}
	})

	h1Count := doc.Find("h1").Length()
	return map[string]any{
		"image_count":        images,
		"images_without_alt": withoutAlt,
		"h1_count":           h1Count,
		"single_h1":          h1Count == 1,
		"aria_labeled":       doc.Find("[aria-label]").Length(),
		"role_annotated":     doc.Find("[role]").Length(),
		"unlabeled_inputs":   unlabeledInputs,
		"lang_declared":      doc.Find("html[lang]").Length() > 0,
	}, nil
}

// securityHeaders are checked for presence on the document response.
var securityHeaders = []string{
	"Strict-Transport-Security",
	"Content-Security-Policy",
	"X-Content-Type-Options",
	"X-Frame-Options",
	"Referrer-Policy",
}

// securityPass combines the browser's view of the page with a plain HTTP
// probe of the same URL. A failed probe degrades the section instead of
// failing the pass.
func (e *ScanExecutor) securityPass(ctx context.Context, sess browser.Session, doc *goquery.Document, rawURL string) (map[string]any, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse target url: %w", err)
	}
	https := parsed.Scheme == "https"

	data := map[string]any{
		"https":         https,
		"final_url":     sess.Info().URL,
		"status_code":   sess.Info().StatusCode,
		"mixed_content": countMixedContent(doc, https),
	}

	probeResult, probeErr := e.prober.Probe(ctx, rawURL)
	if probeErr != nil {
		data["probe_error"] = probeErr.Error()
		return data, nil
	}

	present := map[string]string{}
	var missing []string
	for _, h := range securityHeaders {
		if v := probeResult.Headers.Get(h); v != "" {
			present[h] = v
		} else {
			missing = append(missing, h)
		}
	}
	data["security_headers"] = present
	data["missing_headers"] = missing
	if probeResult.TLS != nil {
		data["tls"] = probeResult.TLS
	}
	return data, nil
}

// countMixedContent counts plain-http subresource references on an https page.
func countMixedContent(doc *goquery.Document, https bool) int {
	if !https {
		return 0
	}
	count := 0
	doc.Find("img[src], script[src], link[href], iframe[src]").Each(func(_ int, s *goquery.Selection) {
		ref, ok := s.Attr("src")
		if !ok {
			ref, _ = s.Attr("href")
		}
		if strings.HasPrefix(strings.ToLower(ref), "http://") {
			count++
		}
	})
	return count
}

const performanceExpr = `(() => {
	const nav = performance.getEntriesByType('navigation')[0];
	const resources = performance.getEntriesByType('resource');
	const out = {
		resource_count: resources.length,
		transfer_bytes: resources.reduce((sum, r) => sum + (r.transferSize || 0), 0),
	};
	if (nav) {
		out.dom_content_loaded_ms = Math.round(nav.domContentLoadedEventEnd - nav.startTime);
		out.load_ms = Math.round(nav.loadEventEnd - nav.startTime);
		out.ttfb_ms = Math.round(nav.responseStart - nav.startTime);
	}
	return out;
})()`

// performancePass reads navigation and resource timing from the page.
func (e *ScanExecutor) performancePass(ctx context.Context, sess browser.Session) (map[string]any, error) {
	var timing map[string]any
	if err := sess.Evaluate(ctx, performanceExpr, &timing); err != nil {
		return nil, fmt.Errorf("read performance timing: %w", err)
	}
	timing["navigation_ms"] = sess.Info().LoadTime.Milliseconds()
	return timing, nil
}
