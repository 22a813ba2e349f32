package integrity

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// voidElements never have an end tag.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"source": true, "track": true, "wbr": true,
}

func looksLikeMarkup(s string) bool {
	t := strings.TrimSpace(s)
	return strings.HasPrefix(t, "<") && strings.Contains(t, ">")
}

// checkMarkup reports the first unbalanced tag in s.
func checkMarkup(s string) error {
	z := html.NewTokenizer(strings.NewReader(s))
	var open []string

	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return fmt.Errorf("markup is not parseable: %w", err)
			}
			if len(open) > 0 {
				return fmt.Errorf("markup has unclosed <%s>", open[len(open)-1])
			}
			return nil
		case html.StartTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if !voidElements[tag] {
				open = append(open, tag)
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if voidElements[tag] {
				continue
			}
			if len(open) == 0 || open[len(open)-1] != tag {
				return fmt.Errorf("markup has unexpected </%s>", tag)
			}
			open = open[:len(open)-1]
		}
	}
}

// reparseMarkup runs s through the HTML5 parser, which closes open elements
// and drops stray end tags, and serialises the result.
func reparseMarkup(s string) (string, bool) {
	if !looksLikeMarkup(s) {
		return "", false
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return "", false
	}

	var out string
	if strings.Contains(strings.ToLower(s), "<html") {
		out, err = doc.Html()
	} else {
		out, err = doc.Find("body").Html()
	}
	if err != nil {
		return "", false
	}

	if strings.TrimSpace(doc.Text()) == "" {
		return "", false
	}
	return strings.TrimSpace(out), true
}
