package gazetteer

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestSpellings_Defaults(t *testing.T) {
	g, err := New("")
	if err != nil {
		t.Fatal(err)
	}

	spellings := g.Spellings("Kyiv")
	for _, want := range []string{"kyiv", "kiev", "київ"} {
		if !slices.Contains(spellings, want) {
			t.Errorf("Spellings(Kyiv) = %v, missing %q", spellings, want)
		}
	}
}

func TestSpellings_LookupByAlias(t *testing.T) {
	g, err := New("")
	if err != nil {
		t.Fatal(err)
	}

	spellings := g.Spellings("kiev")
	if !slices.Contains(spellings, "kyiv") {
		t.Errorf("alias lookup should return canonical form, got %v", spellings)
	}
}

func TestSpellings_UnknownFallsThrough(t *testing.T) {
	g, err := New("")
	if err != nil {
		t.Fatal(err)
	}

	spellings := g.Spellings("Atlantis")
	if len(spellings) != 1 || spellings[0] != "atlantis" {
		t.Errorf("unknown locality should return itself lowercased, got %v", spellings)
	}
}

func TestNew_LoadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "localities.json")
	content := `{"Warsaw": ["warszawa", "варшава"]}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	g, err := New(path)
	if err != nil {
		t.Fatal(err)
	}

	spellings := g.Spellings("warszawa")
	if !slices.Contains(spellings, "warsaw") {
		t.Errorf("file-loaded alias lookup failed, got %v", spellings)
	}

	// File replaces defaults entirely.
	if got := g.Spellings("kyiv"); len(got) != 1 {
		t.Errorf("defaults should be replaced by file, got %v", got)
	}
}

func TestNew_MissingFileUsesDefaults(t *testing.T) {
	g, err := New(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Contains(g.Spellings("kyiv"), "kiev") {
		t.Error("missing file should fall back to defaults")
	}
}
