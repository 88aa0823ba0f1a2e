package htmlutil

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	// cells rendered on separate lines by the browser are separated by a
	// space so their text does not run together.
	if node.Type == html.ElementNode && (node.Data == "br" || node.Data == "p" || node.Data == "div") {
		buffer.WriteByte(' ')
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		getTextRecursive(child, buffer)
	}
}

var innerWhitespace = regexp.MustCompile(`[\s\x{00a0}]+`)

// CleanText removes non-printable characters and collapses whitespace.
func CleanText(s string) string {
	out := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) || unicode.IsSpace(c) {
			out.WriteRune(c)
		}
	}
	return strings.TrimSpace(innerWhitespace.ReplaceAllString(out.String(), " "))
}

// SelectionText is CleanText applied to the text of every node in sel.
func SelectionText(sel *goquery.Selection) string {
	var buffer strings.Builder
	for _, n := range sel.Nodes {
		buffer.WriteString(GetText(n))
		buffer.WriteByte(' ')
	}
	return CleanText(buffer.String())
}

func ParseFragment(fragment string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(fragment))
}

type KeyValue struct {
	Key   string
	Value string
}

// KeyValueRows reads a two column table where the first cell of each row is
// a label and the second one its value. Rows with a single cell produce an
// empty value, rows without cells are skipped.
func KeyValueRows(table *goquery.Selection) []KeyValue {
	rows := []KeyValue{}
	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.ChildrenFiltered("td")
		switch {
		case cells.Length() >= 2:
			rows = append(rows, KeyValue{
				Key:   SelectionText(cells.Eq(0)),
				Value: SelectionText(cells.Eq(1)),
			})
		case cells.Length() == 1:
			rows = append(rows, KeyValue{Key: SelectionText(cells.Eq(0))})
		}
	})
	return rows
}
