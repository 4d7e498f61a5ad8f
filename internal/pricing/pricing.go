package pricing

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/domain"
)

// Table maps a resolution tier to the credits charged per job.
type Table struct {
	prices map[domain.Resolution]int64
}

// Default mirrors the published price list.
func Default() *Table {
	return &Table{prices: map[domain.Resolution]int64{
		domain.Resolution1K: 12,
		domain.Resolution2K: 24,
		domain.Resolution4K: 48,
	}}
}

type fileFormat struct {
	Resolutions map[string]int64 `yaml:"resolutions"`
}

// Load reads a YAML price list of the form
//
//	resolutions:
//	  1k: 12
//	  2k: 24
//
// Tiers missing from the file keep their default price. An empty path yields Default().
func Load(path string) (*Table, error) {
	table := Default()
	path = strings.TrimSpace(path)
	if path == "" {
		return table, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pricing: read %s: %w", path, err)
	}
	var parsed fileFormat
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("pricing: decode %s: %w", path, err)
	}
	for key, price := range parsed.Resolutions {
		res := domain.Resolution(strings.ToLower(strings.TrimSpace(key)))
		if !res.Valid() {
			return nil, fmt.Errorf("pricing: unknown resolution %q", key)
		}
		if price <= 0 {
			return nil, fmt.Errorf("pricing: price for %s must be positive", res)
		}
		table.prices[res] = price
	}
	return table, nil
}

// Quote returns the per-job price for the resolution.
func (t *Table) Quote(res domain.Resolution) (int64, error) {
	price, ok := t.prices[res]
	if !ok {
		return 0, &domain.ValidationError{Field: "resolution", Message: fmt.Sprintf("no price for %q", res)}
	}
	return price, nil
}

// Entry is one row of the price list.
type Entry struct {
	Resolution domain.Resolution `json:"resolution"`
	Credits    int64             `json:"credits"`
}

// Entries lists the table ordered by resolution.
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, len(t.prices))
	for res, price := range t.prices {
		out = append(out, Entry{Resolution: res, Credits: price})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Resolution.LongEdge() < out[j].Resolution.LongEdge()
	})
	return out
}
