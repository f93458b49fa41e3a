package variant

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEmbeddedCatalogHasThirteenVariants(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ids := c.IDs()
	if len(ids) != 13 {
		t.Fatalf("expected 13 variants, got %d: %v", len(ids), ids)
	}
	cl, ok := c.Get("classic")
	if !ok {
		t.Fatalf("classic missing")
	}
	if cl.Scoring != ScoringArea || cl.Defaults.BoardSize != 19 {
		t.Fatalf("unexpected classic entry: %+v", cl)
	}
	if om, _ := c.Get("omok"); om.Captures || !om.HasWin(WinFiveInRow) {
		t.Fatalf("omok must be capture-free five-in-row: %+v", om)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	c := MustDefault()
	v, _ := c.Get("hidden")
	v.Actions[0] = "flick"
	again, _ := c.Get("hidden")
	if again.Actions[0] != "move" {
		t.Fatalf("catalog entry mutated through Get copy")
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	override := []byte(`variants:
  classic:
    name: Classic (club rules)
    setup: [nigiri]
    actions: [move, pass, resign]
    captures: true
    scoring: area
    defaults:
      board_size: 13
      komi: 7.5
`)
	if err := os.WriteFile(filepath.Join(dir, "club.yaml"), override, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	v, _ := c.Get("classic")
	if v.Defaults.Komi != 7.5 || v.Defaults.BoardSize != 13 {
		t.Fatalf("override not applied: %+v", v.Defaults)
	}
}

func TestOverrideRejectsUnknownVocabulary(t *testing.T) {
	dir := t.TempDir()
	bad := []byte("variants:\n  weird:\n    setup: [coin_flip]\n    actions: [move]\n")
	if err := os.WriteFile(filepath.Join(dir, "bad.yml"), bad, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := New(dir); err == nil {
		t.Fatalf("expected error for unknown setup phase")
	}
}

func TestDuplicateOverrideRejected(t *testing.T) {
	dir := t.TempDir()
	doc := []byte("variants:\n  classic:\n    setup: [nigiri]\n    actions: [move]\n")
	for _, n := range []string{"a.yaml", "b.yaml"} {
		if err := os.WriteFile(filepath.Join(dir, n), doc, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if _, err := New(dir); err == nil {
		t.Fatalf("expected duplicate variant error")
	}
}
