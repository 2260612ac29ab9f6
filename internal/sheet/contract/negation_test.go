package contract

import "testing"

func TestAffirmsPlainMention(t *testing.T) {
	if !affirms("This is a terrace house with brick facade", "terrace") {
		t.Fatalf("plain affirmative mention must count")
	}
}

func TestAffirmsIgnoresProhibitionLine(t *testing.T) {
	cases := []string{
		"NO terrace elements",
		"no terrace styling anywhere",
		"avoid terrace massing",
		"without terrace features",
		"never terrace rooflines",
		"- no terrace elements",
	}
	for _, text := range cases {
		if affirms(text, "terrace") {
			t.Fatalf("prohibition line counted as affirmation: %q", text)
		}
	}
}

func TestAffirmsIgnoresProhibitionClause(t *testing.T) {
	text := "modern brick facade; no terrace styling"
	if affirms(text, "terrace") {
		t.Fatalf("prohibition clause counted as affirmation: %q", text)
	}
	text = "a detached villa, not a terrace"
	if affirms(text, "terrace") {
		t.Fatalf("inline negation counted as affirmation: %q", text)
	}
}

func TestAffirmsProhibitionGovernsCommaList(t *testing.T) {
	// A cue governs everything after it in the sentence, so every item
	// of a comma-separated list stays excluded, not just the first.
	text := "no detached, villa or mansion styling"
	for _, pattern := range []string{"detached", "villa", "mansion"} {
		if affirms(text, pattern) {
			t.Fatalf("list item %q after prohibition counted as affirmation", pattern)
		}
	}

	text = "brick facade. must not show: detached, freestanding, villa, mansion"
	for _, pattern := range []string{"detached", "freestanding", "villa", "mansion"} {
		if affirms(text, pattern) {
			t.Fatalf("prohibited list item %q counted as affirmation", pattern)
		}
	}

	// Mentions before the cue still count.
	if !affirms("a villa estate, never terrace styling", "villa") {
		t.Fatalf("mention before the prohibition cue must still count")
	}
}

func TestAffirmsIgnoresForbiddenSection(t *testing.T) {
	text := "A fine house.\nForbidden:\n- terrace\n- villa\n\nRender in daylight with a terrace garden"
	if !affirms(text, "terrace") {
		t.Fatalf("mention after section end must count")
	}
	sectionOnly := "A fine house.\nForbidden:\n- terrace\n- villa"
	if affirms(sectionOnly, "terrace") {
		t.Fatalf("forbidden-section list item counted as affirmation")
	}
}

func TestAffirmsMixedLines(t *testing.T) {
	text := "This is a terrace house\nno villa features"
	if !affirms(text, "terrace") {
		t.Fatalf("affirmative line must count despite later prohibitions")
	}
	if affirms(text, "villa") {
		t.Fatalf("prohibited villa mention must not count")
	}
}

func TestAffirmsEmptyPattern(t *testing.T) {
	if affirms("anything at all", "") {
		t.Fatalf("empty pattern can never be affirmed")
	}
}
