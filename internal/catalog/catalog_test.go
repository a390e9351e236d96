package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParse(t *testing.T) {
	data := []byte(`
stations:
  bar: [ESP, lat]
  KITCHEN: [GSAL]
items:
  esp: coffee
  " burg ": grill
`)

	c, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	tests := []struct {
		name   string
		sku    string
		want   string
		wantOK bool
	}{
		{name: "stationList", sku: "LAT", want: "BAR", wantOK: true},
		{name: "itemsOverrideStationList", sku: "ESP", want: "COFFEE", wantOK: true},
		{name: "trimmedAndUppercased", sku: "burg", want: "GRILL", wantOK: true},
		{name: "lowercaseLookup", sku: "gsal", want: "KITCHEN", wantOK: true},
		{name: "unknownSKU", sku: "NOPE", wantOK: false},
		{name: "emptySKU", sku: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := c.StationFor(tt.sku)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("StationFor(%q) = %q, %v, want %q, %v", tt.sku, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	if _, err := Parse([]byte("items: [unclosed")); err == nil {
		t.Error("Parse() expected error for malformed yaml")
	}
}

func TestLoad(t *testing.T) {
	t.Run("emptyPath", func(t *testing.T) {
		c, err := Load("")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if c.Len() != 0 {
			t.Errorf("Len() = %d, want 0", c.Len())
		}
	})

	t.Run("fromFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "stations.yaml")
		if err := os.WriteFile(path, []byte("items:\n  ESP: BAR\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		c, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if st, ok := c.StationFor("ESP"); !ok || st != "BAR" {
			t.Errorf("StationFor(ESP) = %q, %v", st, ok)
		}
	})

	t.Run("missingFile", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("Load() expected error for missing file")
		}
	})
}

func TestNilCatalog(t *testing.T) {
	var c *Catalog
	if _, ok := c.StationFor("ESP"); ok {
		t.Error("nil catalog should not resolve")
	}
}
