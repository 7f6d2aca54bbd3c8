package quote

import (
	"sort"
	"strings"

	"golang.org/x/text/width"
)

// Distance classes: 0 same or neighbouring region, 1 next-day zone,
// 2 remote (Kyushu, Hokkaido), 3 outlying islands.
const fallbackClass = 1

// Bucket is one size band with its standard and express prices in yen.
type Bucket struct {
	MaxSize  int
	Standard int
	Express  int
}

// Addon is an optional service added to the base price.
type Addon struct {
	Code  string
	Label string
	Fee   int
}

// Table holds the read-only tariff and lead-time data.
type Table struct {
	LeadTimes map[string]map[string]int
	Buckets   []Bucket
	Addons    map[string]Addon
	Kinds     map[string]string
	Aliases   map[string]string
}

// DefaultTable returns the built-in sample tariff.
func DefaultTable() *Table {
	return &Table{
		LeadTimes: map[string]map[string]int{
			"Tokyo": {"Aichi": 1, "Osaka": 1, "Fukuoka": 2, "Hokkaido": 2, "Tokyo": 0},
			"Aichi": {"Tokyo": 1, "Osaka": 0, "Fukuoka": 1, "Hokkaido": 2, "Aichi": 0},
		},
		Buckets: []Bucket{
			{MaxSize: 60, Standard: 870, Express: 1120},
			{MaxSize: 80, Standard: 1100, Express: 1390},
			{MaxSize: 100, Standard: 1390, Express: 1700},
			{MaxSize: 120, Standard: 1610, Express: 1950},
			{MaxSize: 140, Standard: 1830, Express: 2200},
			{MaxSize: 160, Standard: 2060, Express: 2450},
			{MaxSize: 170, Standard: 2500, Express: 2900},
		},
		Addons: map[string]Addon{
			"0": {Code: "0", Label: "none", Fee: 0},
			"1": {Code: "1", Label: "insurance", Fee: 400},
			"2": {Code: "2", Label: "signature on delivery", Fee: 350},
			"3": {Code: "3", Label: "chilled", Fee: 250},
		},
		Kinds: map[string]string{
			"1": "postcard",
			"2": "letter",
			"3": "small parcel",
			"4": "large parcel",
		},
		Aliases: map[string]string{
			"東京":  "Tokyo",
			"愛知":  "Aichi",
			"名古屋": "Aichi",
			"大阪":  "Osaka",
			"福岡":  "Fukuoka",
			"北海道": "Hokkaido",
			"札幌":  "Hokkaido",
		},
	}
}

// Region maps free text to a canonical region name. Unknown names come back
// trimmed so they can still be shown to the user.
func (t *Table) Region(name string) string {
	n := strings.TrimSpace(width.Fold.String(name))
	if n == "" {
		return n
	}
	if canonical, ok := t.lookup(n); ok {
		return canonical
	}
	for _, suffix := range []string{"都", "府", "県"} {
		if trimmed := strings.TrimSuffix(n, suffix); trimmed != n && trimmed != "" {
			if canonical, ok := t.lookup(trimmed); ok {
				return canonical
			}
		}
	}
	return n
}

func (t *Table) lookup(name string) (string, bool) {
	if canonical, ok := t.Aliases[name]; ok {
		return canonical, true
	}
	for _, canonical := range t.regions() {
		if strings.EqualFold(canonical, name) {
			return canonical, true
		}
	}
	return "", false
}

// Class returns the distance class from origin to destination. The matrix
// is directional; pairs missing from it fall back to class 1.
func (t *Table) Class(origin, destination string) int {
	from, to := t.Region(origin), t.Region(destination)
	if c, ok := t.LeadTimes[from][to]; ok {
		return c
	}
	return fallbackClass
}

// BucketFor returns the smallest bucket that fits size.
func (t *Table) BucketFor(size int) (Bucket, error) {
	for _, b := range t.Buckets {
		if size <= b.MaxSize {
			return b, nil
		}
	}
	return Bucket{}, &OutOfRangeError{Size: size, Max: t.MaxSize()}
}

// MaxSize is the upper bound of the largest bucket.
func (t *Table) MaxSize() int {
	if len(t.Buckets) == 0 {
		return 0
	}
	return t.Buckets[len(t.Buckets)-1].MaxSize
}

// Addon looks up an add-on code. Unknown codes carry no fee.
func (t *Table) Addon(code string) Addon {
	code = strings.TrimSpace(width.Fold.String(code))
	if a, ok := t.Addons[code]; ok {
		return a
	}
	return Addon{Code: code, Label: code}
}

// KindLabel names an item-type code, or returns the text as given.
func (t *Table) KindLabel(code string) string {
	code = strings.TrimSpace(width.Fold.String(code))
	if label, ok := t.Kinds[code]; ok {
		return label
	}
	return code
}

// AddonCodes returns the add-on codes in ascending order.
func (t *Table) AddonCodes() []string {
	codes := make([]string, 0, len(t.Addons))
	for code := range t.Addons {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// KindCodes returns the item-type codes in ascending order.
func (t *Table) KindCodes() []string {
	codes := make([]string, 0, len(t.Kinds))
	for code := range t.Kinds {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func (t *Table) regions() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(r string) {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	for from, row := range t.LeadTimes {
		add(from)
		for to := range row {
			add(to)
		}
	}
	for _, canonical := range t.Aliases {
		add(canonical)
	}
	return out
}
