package transform

import (
	"github.com/jaytaylor/html2text"
)

// htmlToPlainText degrades cleaned HTML to plain text, matching spec.md's
// "otherwise degrade HTML -> text" rule for messages with no text/plain
// part.
func htmlToPlainText(cleanedHTML string) (string, error) {
	return html2text.FromString(cleanedHTML, html2text.Options{PrettyTables: false})
}
