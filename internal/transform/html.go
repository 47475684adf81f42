package transform

import (
	"bytes"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// signatureKeywords are matched case-insensitively against an element's
// class or id per spec.md's signature-stripping heuristic.
var signatureKeywords = []string{"signature", "email-signature", "footer", "disclaimer"}

// htmlToText cleans an HTML body per spec.md's step 2 (strip <script>,
// <style>, signature-ish elements, and tracking pixels/hosts) before
// degrading it to plain text.
func htmlToText(htmlBody string, trackingHostPatterns []string) (string, error) {
	cleaned, err := cleanHTML(htmlBody, trackingHostPatterns)
	if err != nil {
		return "", err
	}
	return htmlToPlainText(cleaned)
}

func cleanHTML(htmlBody string, trackingHostPatterns []string) (string, error) {
	doc, err := html.Parse(strings.NewReader(htmlBody))
	if err != nil {
		return "", err
	}

	stripNodes(doc, trackingHostPatterns)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// stripNodes walks n's children, removing any node shouldRemove flags and
// otherwise recursing into it. It mutates the child list while iterating,
// which is why it caches NextSibling before deciding.
func stripNodes(n *html.Node, trackingHostPatterns []string) {
	child := n.FirstChild
	for child != nil {
		next := child.NextSibling
		if shouldRemove(child, trackingHostPatterns) {
			n.RemoveChild(child)
		} else {
			stripNodes(child, trackingHostPatterns)
		}
		child = next
	}
}

func shouldRemove(n *html.Node, trackingHostPatterns []string) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.Data {
	case "script", "style":
		return true
	}
	if isSignatureElement(n) {
		return true
	}
	if n.Data == "img" && (isTrackingPixel(n) || isTrackingHost(n, trackingHostPatterns)) {
		return true
	}
	return false
}

func isSignatureElement(n *html.Node) bool {
	class := strings.ToLower(attrOf(n, "class"))
	id := strings.ToLower(attrOf(n, "id"))
	for _, kw := range signatureKeywords {
		if strings.Contains(class, kw) || strings.Contains(id, kw) {
			return true
		}
	}
	return false
}

func isTrackingPixel(n *html.Node) bool {
	w, wOK := parseDimension(attrOf(n, "width"))
	h, hOK := parseDimension(attrOf(n, "height"))
	return wOK && hOK && w <= 1 && h <= 1
}

func isTrackingHost(n *html.Node, patterns []string) bool {
	if len(patterns) == 0 {
		return false
	}
	src := strings.ToLower(attrOf(n, "src"))
	if src == "" {
		return false
	}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && strings.Contains(src, p) {
			return true
		}
	}
	return false
}

func attrOf(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Value
		}
	}
	return ""
}

func parseDimension(s string) (int, bool) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "px"))
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
