package scrape

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"agendacal/internal/model"
	"agendacal/internal/resolve"
)

// Card is what the page script returns for one agenda card.
type Card struct {
	Text string `json:"text"`
	Href string `json:"href"`
	// Day is the "Weekday N" found in the enclosing day column, if any.
	Day string `json:"day"`
}

const (
	titleFallbackRunes = 100
	excerptRunes       = 200
)

var (
	tagRe       = regexp.MustCompile(`^([A-Z\s]+)\s`)
	titleRe     = regexp.MustCompile(`(?s)^[A-Z\s]+\s(.+?)\n\s*(\d{1,2}:\d{2})`)
	rangeRe     = regexp.MustCompile(`(\d{1,2}:\d{2})\s*-\s*(\d{1,2}:\d{2})`)
	lineClockRe = regexp.MustCompile(`^\d{1,2}:\d{2}`)
	allCapsRe   = regexp.MustCompile(`^[A-Z\s]+$`)
)

// ParseCards turns raw card text into talks. base is the agenda page URL
// that relative links are resolved against; defaultDay is used for cards
// outside any day column. Cards without a title or a start time are
// dropped; IDs keep the card's position ("talk-<n>") so they stay unique.
func ParseCards(cards []Card, base *url.URL, defaultDay string) []model.Talk {
	out := make([]model.Talk, 0, len(cards))
	for i, c := range cards {
		t := parseCard(c, base, defaultDay)
		if t.Title == "" || t.TimeText == "" {
			continue
		}
		t.ID = fmt.Sprintf("talk-%d", i)
		out = append(out, t)
	}
	return out
}

func parseCard(c Card, base *url.URL, defaultDay string) model.Talk {
	text := norm.NFC.String(c.Text)

	var t model.Talk

	if m := tagRe.FindStringSubmatch(text); m != nil {
		if tag := strings.TrimSpace(m[1]); tag != "" {
			t.Tags = []string{tag}
		}
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}

	if m := titleRe.FindStringSubmatch(text); m != nil {
		t.Title = strings.TrimSpace(m[1])
	} else {
		t.Title = strings.TrimSpace(firstRunes(text, titleFallbackRunes))
	}

	if m := rangeRe.FindStringSubmatch(text); m != nil {
		t.TimeText, t.EndTimeText = m[1], m[2]
	}

	t.Speakers = speakers(text, t.Title)

	t.DayLabel = defaultDay
	if label, ok := resolve.FindDayLabel(norm.NFC.String(c.Day)); ok {
		t.DayLabel = label
	}

	t.URL = absoluteURL(base, strings.TrimSpace(c.Href))
	t.RawExcerpt = firstRunes(text, excerptRunes) + "..."
	return t
}

func speakers(text, title string) []string {
	out := []string{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == title {
			continue
		}
		if lineClockRe.MatchString(line) || allCapsRe.MatchString(line) {
			continue
		}
		out = append(out, line)
		if len(out) == model.MaxSpeakers {
			break
		}
	}
	return out
}

// absoluteURL resolves href against the site root. Fragment-only and empty
// links carry no talk page and become "".
func absoluteURL(base *url.URL, href string) string {
	switch {
	case href == "" || strings.HasPrefix(href, "#"):
		return ""
	case strings.HasPrefix(href, "http"):
		return href
	case base == nil:
		return href
	}
	root := &url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/"}
	ref, err := url.Parse(strings.TrimPrefix(href, "/"))
	if err != nil {
		return ""
	}
	return root.ResolveReference(ref).String()
}

func firstRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
