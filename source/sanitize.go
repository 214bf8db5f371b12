package source

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

const maxDescriptionLen = 10000

var (
	whitespaceRegex = regexp.MustCompile(`[ \t\r\f\v]+`)
	blankLinesRegex = regexp.MustCompile(`\n{3,}`)
	privateHostRe   = regexp.MustCompile(`^(10\.|172\.(1[6-9]|2[0-9]|3[01])\.|192\.168\.)`)
)

// CleanText strips markup and control characters from feed text and caps it
// at maxLen runes.
func CleanText(s string, maxLen int) string {
	if strings.ContainsRune(s, '<') {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			doc.Find("script, style, iframe, object, embed").Remove()
			doc.Find("br").ReplaceWithHtml("\n")
			doc.Find("p, div, li, tr").AppendHtml("\n")
			s = doc.Text()
		}
	}

	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == utf8.RuneError {
			return -1
		}
		return r
	}, s)
	s = whitespaceRegex.ReplaceAllString(s, " ")
	s = blankLinesRegex.ReplaceAllString(s, "\n\n")
	s = strings.TrimSpace(s)

	if maxLen > 0 && utf8.RuneCountInString(s) > maxLen {
		s = string([]rune(s)[:maxLen])
	}
	return s
}

// CleanURL keeps http(s) links to public hosts and drops everything else.
func CleanURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	host := u.Hostname()
	if host == "localhost" || host == "127.0.0.1" || host == "0.0.0.0" || privateHostRe.MatchString(host) {
		return ""
	}
	return raw
}
