package safety

import (
	"reflect"
	"testing"
)

func TestMatcher_WordBoundaries(t *testing.T) {
	m, err := newMatcher(HighRiskPhrases)
	if err != nil {
		t.Fatalf("newMatcher() error: %v", err)
	}

	cases := []struct {
		name  string
		input string
		want  []string
	}{
		{"plain", "i want to kill myself", []string{"kill myself"}},
		{"punctuated", "suicide.", []string{"suicide"}},
		{"curly apostrophe", normalize("I don’t want to live anymore"), []string{"don't want to live"}},
		{"multiple in table order", "i want to die, i might hurt myself", []string{"want to die", "hurt myself"}},
		{"inside a word", "suicidebomber trivia", nil},
		{"prefix of a word", "self harmony", nil},
		{"suffix of a word", "unsuicide", nil},
		{"clean", "had a rough day at work", nil},
		{"empty", "", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := m.match(tc.input)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("match(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestMatcher_DeduplicatesAndSkipsEmpty(t *testing.T) {
	m, err := newMatcher([]string{"Hopeless", "hopeless", "  "})
	if err != nil {
		t.Fatalf("newMatcher() error: %v", err)
	}
	if len(m.phrases) != 1 {
		t.Fatalf("expected 1 phrase, got %v", m.phrases)
	}
	if got := m.match("so hopeless hopeless"); !reflect.DeepEqual(got, []string{"hopeless"}) {
		t.Errorf("expected single hopeless match, got %v", got)
	}
}

func TestMatcher_EmptyTable(t *testing.T) {
	m, err := newMatcher(nil)
	if err != nil {
		t.Fatalf("newMatcher() error: %v", err)
	}
	if got := m.match("anything"); got != nil {
		t.Errorf("expected no matches, got %v", got)
	}
}

func TestNormalize(t *testing.T) {
	if got := normalize("  Don’T Want To LIVE \n"); got != "don't want to live" {
		t.Errorf("normalize() = %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"low", "MEDIUM", " High "} {
		if _, err := ParseLevel(s); err != nil {
			t.Errorf("ParseLevel(%q) error: %v", s, err)
		}
	}
	if _, err := ParseLevel("severe"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestRecommendedAction(t *testing.T) {
	if RecommendedAction(LevelHigh) == RecommendedAction(LevelLow) {
		t.Error("high and low should differ")
	}
	if RecommendedAction("bogus") != RecommendedAction(LevelLow) {
		t.Error("unknown levels should fall back to low guidance")
	}
}

func TestResources(t *testing.T) {
	cases := []struct {
		country   string
		wantLen   int
		wantFirst string
		wantLabel string
	}{
		{"", 2, "International Crisis Text Line", "International"},
		{"us", 4, "National Suicide Prevention Lifeline", "us"},
		{"IN", 5, "Kiran Mental Health Rehabilitation Helpline (Govt. of India)", "IN"},
		{"GB", 2, "International Crisis Text Line", "GB"},
	}
	for _, tc := range cases {
		got, label := Resources(tc.country)
		if len(got) != tc.wantLen {
			t.Errorf("Resources(%q) len = %d, want %d", tc.country, len(got), tc.wantLen)
			continue
		}
		if got[0].Name != tc.wantFirst {
			t.Errorf("Resources(%q)[0] = %q, want %q", tc.country, got[0].Name, tc.wantFirst)
		}
		if label != tc.wantLabel {
			t.Errorf("Resources(%q) label = %q, want %q", tc.country, label, tc.wantLabel)
		}
	}
}
