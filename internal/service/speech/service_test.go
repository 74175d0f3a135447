package speech

import "testing"

func TestBaseLanguage(t *testing.T) {
	cases := map[string]string{
		"en":    "en",
		"en-US": "en",
		"pt_BR": "pt",
		"ES":    "es",
		"":      "",
	}
	for in, want := range cases {
		if got := baseLanguage(in); got != want {
			t.Errorf("baseLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}
