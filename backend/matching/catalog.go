package matching

import (
	"errors"
	"fmt"
)

// Category names one of the scored preference dimensions.
type Category string

const (
	Cleanliness     Category = "cleanliness"
	Smoking         Category = "smoking"
	Pets            Category = "pets"
	WorkSchedule    Category = "workSchedule"
	SocialLevel     Category = "socialLevel"
	GuestPreference Category = "guestPreference"
	Music           Category = "music"
)

var (
	ErrNoValues         = errors.New("category has no values")
	ErrDuplicateValue   = errors.New("duplicate category value")
	ErrDuplicateOrdinal = errors.New("duplicate ordinal")
	ErrEmptySpan        = errors.New("category span must be greater than zero")
	ErrDuplicateKey     = errors.New("duplicate category")
)

// CategoryValue is one allowed answer and its ordinal rank.
type CategoryValue struct {
	Value   string `json:"value"`
	Ordinal int    `json:"ordinal"`
}

// CategoryDef describes a category as it is fed to NewCatalog.
type CategoryDef struct {
	Name   Category        `json:"name"`
	Label  string          `json:"label"`
	Values []CategoryValue `json:"values"`
}

type categoryEntry struct {
	def      CategoryDef
	ordinals map[string]int
	span     int
}

// Catalog is the authoritative list of scored categories. It is read-only
// after construction and safe for concurrent use.
type Catalog struct {
	order   []Category
	entries map[Category]*categoryEntry
}

// NewCatalog validates defs and builds a catalog. Category order is kept as
// given; it is the order used for scoring and presentation.
func NewCatalog(defs []CategoryDef) (*Catalog, error) {
	c := &Catalog{entries: make(map[Category]*categoryEntry, len(defs))}
	for _, d := range defs {
		if _, dup := c.entries[d.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, d.Name)
		}
		if len(d.Values) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoValues, d.Name)
		}
		e := &categoryEntry{def: d, ordinals: make(map[string]int, len(d.Values))}
		seenOrd := make(map[int]bool, len(d.Values))
		lo, hi := d.Values[0].Ordinal, d.Values[0].Ordinal
		for _, v := range d.Values {
			if _, dup := e.ordinals[v.Value]; dup {
				return nil, fmt.Errorf("%w: %s/%q", ErrDuplicateValue, d.Name, v.Value)
			}
			if seenOrd[v.Ordinal] {
				return nil, fmt.Errorf("%w: %s/%d", ErrDuplicateOrdinal, d.Name, v.Ordinal)
			}
			seenOrd[v.Ordinal] = true
			e.ordinals[v.Value] = v.Ordinal
			lo = min(lo, v.Ordinal)
			hi = max(hi, v.Ordinal)
		}
		e.span = hi - lo
		if e.span <= 0 {
			return nil, fmt.Errorf("%w: %s", ErrEmptySpan, d.Name)
		}
		c.entries[d.Name] = e
		c.order = append(c.order, d.Name)
	}
	return c, nil
}

// MustNewCatalog is NewCatalog for package-level tables.
func MustNewCatalog(defs []CategoryDef) *Catalog {
	c, err := NewCatalog(defs)
	if err != nil {
		panic(err)
	}
	return c
}

// Categories returns the scored categories in catalog order.
func (c *Catalog) Categories() []Category {
	out := make([]Category, len(c.order))
	copy(out, c.order)
	return out
}

// OrdinalOf returns the ordinal of value within category. ok is false for
// unknown categories and for values outside the allowed set.
func (c *Catalog) OrdinalOf(category Category, value string) (int, bool) {
	e, ok := c.entries[category]
	if !ok {
		return 0, false
	}
	ord, ok := e.ordinals[value]
	return ord, ok
}

// Span is max(ordinal) - min(ordinal) for category, or 0 if unknown.
func (c *Catalog) Span(category Category) int {
	if e, ok := c.entries[category]; ok {
		return e.span
	}
	return 0
}

// Allows reports whether value is in category's allowed set.
func (c *Catalog) Allows(category Category, value string) bool {
	_, ok := c.OrdinalOf(category, value)
	return ok
}

// Definitions returns a copy of the catalog for presentation.
func (c *Catalog) Definitions() []CategoryDef {
	out := make([]CategoryDef, 0, len(c.order))
	for _, name := range c.order {
		d := c.entries[name].def
		vals := make([]CategoryValue, len(d.Values))
		copy(vals, d.Values)
		d.Values = vals
		out = append(out, d)
	}
	return out
}

func values(names ...string) []CategoryValue {
	out := make([]CategoryValue, len(names))
	for i, n := range names {
		out[i] = CategoryValue{Value: n, Ordinal: i + 1}
	}
	return out
}

// DefaultCatalog holds the seven roommate categories.
var DefaultCatalog = MustNewCatalog([]CategoryDef{
	{Name: Cleanliness, Label: "Cleanliness", Values: values("Messy", "Somewhat Clean", "Moderately Clean", "Very Clean")},
	{Name: Smoking, Label: "Smoking", Values: values("No Smoking", "Outdoor Only", "Occasional", "Smoker")},
	{Name: Pets, Label: "Pets", Values: values("No Pets", "Small Pets Only", "Pet Friendly")},
	{Name: WorkSchedule, Label: "Work Schedule", Values: values("Early Riser", "Regular Hours", "Flexible", "Night Owl")},
	{Name: SocialLevel, Label: "Social Level", Values: values("Introvert", "Ambivert", "Extrovert")},
	{Name: GuestPreference, Label: "Guests", Values: values("No Guests", "Occasional Guests", "Frequent Guests")},
	{Name: Music, Label: "Music / Noise", Values: values("Quiet", "Moderate Noise", "Loud Music OK")},
})
