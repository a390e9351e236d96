package catalog

import (
	"fmt"
	"os"
	"strings"

	"github.com/appetiteclub/edge/pkg/enums/station"
	"gopkg.in/yaml.v3"
)

// File is the on-disk layout of the station catalog. Both forms may be used
// in the same file; entries under items win over station lists.
//
//	stations:
//	  BAR: [ESP, LAT]
//	items:
//	  GSAL: KITCHEN
type File struct {
	Stations map[string][]string `yaml:"stations"`
	Items    map[string]string   `yaml:"items"`
}

// Catalog maps menu SKUs to the station that prepares them.
type Catalog struct {
	bySKU map[string]string
}

func New(items map[string]string) *Catalog {
	c := &Catalog{bySKU: make(map[string]string, len(items))}
	for sku, st := range items {
		c.add(sku, st)
	}
	return c
}

// Load reads a catalog file. An empty path yields an empty catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return New(nil), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read station catalog: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse station catalog: %w", err)
	}

	c := New(nil)
	for st, skus := range f.Stations {
		for _, sku := range skus {
			c.add(sku, st)
		}
	}
	for sku, st := range f.Items {
		c.add(sku, st)
	}
	return c, nil
}

// StationFor returns the station code registered for sku.
func (c *Catalog) StationFor(sku string) (string, bool) {
	if c == nil {
		return "", false
	}
	st, ok := c.bySKU[normalizeSKU(sku)]
	return st, ok
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.bySKU)
}

func (c *Catalog) add(sku, st string) {
	key := normalizeSKU(sku)
	code := station.Normalize(st)
	if key == "" || code == "" {
		return
	}
	c.bySKU[key] = code
}

func normalizeSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}
