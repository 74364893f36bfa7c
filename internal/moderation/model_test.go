package moderation

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadModel_Default(t *testing.T) {
	m, err := LoadModel("")
	if err != nil {
		t.Fatalf("embedded default model must load: %v", err)
	}
	if len(m.terms) == 0 {
		t.Fatal("default model has no terms")
	}
}

func TestLoadModel_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "terms.txt")
	content := "# comment\nbadword 0.8\n\nmean phrase 0.6\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	m, err := LoadModel(path)
	if err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	if len(m.terms) != 2 {
		t.Errorf("expected 2 terms, got %d", len(m.terms))
	}
	if w := m.terms["mean phrase"]; w != 0.6 {
		t.Errorf("multi-word term weight = %v, want 0.6", w)
	}
}

func TestLoadModel_Errors(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"missing weight", "badword\n"},
		{"weight not a number", "badword high\n"},
		{"weight zero", "badword 0\n"},
		{"weight above one", "badword 1.5\n"},
		{"empty file", "# nothing here\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "terms.txt")
			if err := os.WriteFile(path, []byte(tc.content), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadModel(path); err == nil {
				t.Error("expected load error, got nil")
			}
		})
	}
}

func TestLoadModel_MissingFile(t *testing.T) {
	if _, err := LoadModel(filepath.Join(t.TempDir(), "nope.txt")); err == nil {
		t.Error("expected error for missing model file")
	}
}

func TestModelAbusive(t *testing.T) {
	m, err := LoadModel("")
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		text    string
		abusive bool
	}{
		{"hello, how are you?", false},
		{"you are an idiot", true},
		{"I will KILL YOU", true},           // case-insensitive
		{"I will find you", true},           // threat pattern
		{"aaaaaaaaaa", true},                // character flood
		{"aaaa", false},                     // below flood threshold
		{"the stupidity of it all", false},  // word boundary: "stupid" must not match inside a word
		{"go away", false},                  // weight 0.4 is under the threshold
		{"what a nice day to go outside", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := m.Abusive(tc.text); got != tc.abusive {
			t.Errorf("Abusive(%q) = %v, want %v", tc.text, got, tc.abusive)
		}
	}
}

func TestModelScoreIsMaxSignal(t *testing.T) {
	m, err := LoadModel("")
	if err != nil {
		t.Fatal(err)
	}

	// "kill you" (0.95) outweighs "idiot" (0.6); score is the max, not a sum.
	score := m.Score("idiot, I will kill you")
	if score != 0.95 {
		t.Errorf("Score = %v, want 0.95", score)
	}
}
