package scrape

import (
	"net/url"
	"reflect"
	"strings"
	"testing"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestParseCards(t *testing.T) {
	base := mustURL(t, "https://nerdear.la/agenda/")
	cards := []Card{
		{
			Text: "KEYNOTE\nConstruyendo sistemas resilientes\n  10:00 - 10:45\n  Ana Pérez\n  Luis Gómez\n",
			Href: "/charla/resilientes",
			Day:  "Miércoles 24",
		},
		{
			// No time at all: dropped.
			Text: "BREAK\nCafé\n",
		},
		{
			Text: "DEVOPS CLOUD\nPipelines\n15:30 - 16:10\nMaría\nJuan\nPedro\nSofía",
			Href: "#",
		},
	}

	talks := ParseCards(cards, base, DefaultDay)
	if len(talks) != 2 {
		t.Fatalf("got %d talks, want 2: %+v", len(talks), talks)
	}

	first := talks[0]
	if first.ID != "talk-0" || first.Title != "Construyendo sistemas resilientes" {
		t.Errorf("first = %+v", first)
	}
	if first.TimeText != "10:00" || first.EndTimeText != "10:45" {
		t.Errorf("times = %q - %q", first.TimeText, first.EndTimeText)
	}
	if !reflect.DeepEqual(first.Tags, []string{"KEYNOTE"}) {
		t.Errorf("tags = %v", first.Tags)
	}
	if !reflect.DeepEqual(first.Speakers, []string{"Ana Pérez", "Luis Gómez"}) {
		t.Errorf("speakers = %v", first.Speakers)
	}
	if first.DayLabel != "Miércoles 24" {
		t.Errorf("day = %q", first.DayLabel)
	}
	if first.URL != "https://nerdear.la/charla/resilientes" {
		t.Errorf("url = %q", first.URL)
	}

	second := talks[1]
	if second.ID != "talk-2" {
		t.Errorf("id = %q, want the card position", second.ID)
	}
	if !reflect.DeepEqual(second.Tags, []string{"DEVOPS CLOUD"}) {
		t.Errorf("tags = %v", second.Tags)
	}
	if len(second.Speakers) != 3 || second.Speakers[2] != "Pedro" {
		t.Errorf("speakers = %v (max 3)", second.Speakers)
	}
	if second.DayLabel != DefaultDay || second.URL != "" {
		t.Errorf("defaults not applied: day %q url %q", second.DayLabel, second.URL)
	}
}

func TestParseCards_TitleFallbackAndExcerpt(t *testing.T) {
	long := "charla sin etiqueta 11:00 - 11:30 " + strings.Repeat("ñ", 300)
	talks := ParseCards([]Card{{Text: long}}, nil, "Jueves 25")
	if len(talks) != 1 {
		t.Fatalf("got %d talks", len(talks))
	}
	tk := talks[0]
	if len([]rune(tk.Title)) != 100 {
		t.Errorf("fallback title has %d runes", len([]rune(tk.Title)))
	}
	if !strings.HasSuffix(tk.RawExcerpt, "...") || len([]rune(tk.RawExcerpt)) != 203 {
		t.Errorf("excerpt has %d runes", len([]rune(tk.RawExcerpt)))
	}
	if len(tk.Tags) != 0 || tk.Tags == nil {
		t.Errorf("tags = %#v, want empty non-nil", tk.Tags)
	}
}

func TestParseCards_NormalizesToNFC(t *testing.T) {
	// Decomposed accents: o and e followed by U+0301.
	decomposed := "TALK\nIntro\n09:00 - 09:30\nGo\u0301mez"
	talks := ParseCards([]Card{{Text: decomposed, Day: "Mie\u0301rcoles 24"}}, nil, DefaultDay)
	if len(talks) != 1 {
		t.Fatalf("got %d talks", len(talks))
	}
	if talks[0].Speakers[0] != "Gómez" {
		t.Errorf("speaker = %q", talks[0].Speakers[0])
	}
	if talks[0].DayLabel != "Miércoles 24" {
		t.Errorf("day = %q", talks[0].DayLabel)
	}
}

func TestAbsoluteURL(t *testing.T) {
	base := mustURL(t, "https://nerdear.la/agenda/")
	cases := []struct{ in, want string }{
		{"", ""},
		{"#top", ""},
		{"https://other.test/x", "https://other.test/x"},
		{"/charla/1", "https://nerdear.la/charla/1"},
		{"charla/2", "https://nerdear.la/charla/2"},
	}
	for _, c := range cases {
		if got := absoluteURL(base, c.in); got != c.want {
			t.Errorf("absoluteURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
