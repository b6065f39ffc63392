package manager

import (
	"os"
	"path/filepath"
	"testing"

	"p2p-go-home/internal/p2p"
)

func TestLoadCatalogDir(t *testing.T) {
	dir := t.TempDir()
	content := `{
		"types": [
			{"category": 7, "sub_category": 9, "name": "Projector Dongle"}
		],
		"vendors": [
			{"oui": "00e04c01", "types": [
				{"category": 10, "sub_category": 1, "name": "Realtek Handset"}
			]}
		],
		"aliases": {"fa:7b:7a:42:02:13": "Den TV"}
	}`
	if err := os.WriteFile(filepath.Join(dir, "home.json"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	// Non-JSON files are ignored.
	if err := os.WriteFile(filepath.Join(dir, "README.txt"), []byte("not json"), 0644); err != nil {
		t.Fatal(err)
	}

	c := p2p.NewCatalog()
	before := c.Len()
	if err := LoadCatalogDir(dir, c, newTestLogger()); err != nil {
		t.Fatal(err)
	}
	if c.Len() != before+2 {
		t.Errorf("len = %d, want %d", c.Len(), before+2)
	}
	if got := c.TypeName("7-0050F204-9"); got != "Projector Dongle" {
		t.Errorf("7-9 = %q, want Projector Dongle", got)
	}
	if got := c.TypeName("10-00E04C01-1"); got != "Realtek Handset" {
		t.Errorf("vendor type = %q, want Realtek Handset", got)
	}
	if got, ok := c.Alias(p2p.MustParseMAC("FA:7B:7A:42:02:13")); !ok || got != "Den TV" {
		t.Errorf("alias = %q, %v", got, ok)
	}
}

func TestLoadCatalogDirMissing(t *testing.T) {
	c := p2p.NewCatalog()
	if err := LoadCatalogDir(filepath.Join(t.TempDir(), "nope"), c, newTestLogger()); err != nil {
		t.Errorf("missing dir err = %v, want nil", err)
	}
}

func TestLoadCatalogDirErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad json", `{"types": [`},
		{"bad alias", `{"aliases": {"not-a-mac": "x"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, "x.json"), []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			if err := LoadCatalogDir(dir, p2p.NewCatalog(), newTestLogger()); err == nil {
				t.Error("expected error")
			}
		})
	}
}
