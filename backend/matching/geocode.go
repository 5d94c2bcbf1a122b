package matching

import (
	"fmt"
	"strings"
)

// Coordinate is a latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// City is one row of the geocode table. Name is matched case-insensitively.
type City struct {
	Name  string
	Coord Coordinate
}

// Resolver maps free-text locations to approximate coordinates using a fixed
// city table. It never fails: unknown places resolve to the default city.
type Resolver struct {
	cities []City
	def    Coordinate
}

// NewResolver builds a resolver over cities. defaultCity must be one of the
// table's names.
func NewResolver(cities []City, defaultCity string) (*Resolver, error) {
	r := &Resolver{cities: make([]City, 0, len(cities))}
	found := false
	for _, c := range cities {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" {
			continue
		}
		r.cities = append(r.cities, City{Name: name, Coord: c.Coord})
		if name == strings.ToLower(strings.TrimSpace(defaultCity)) {
			r.def = c.Coord
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("default city %q not in table", defaultCity)
	}
	return r, nil
}

// Default returns the fallback coordinate.
func (r *Resolver) Default() Coordinate { return r.def }

// Resolve returns the coordinate for text. ok is false only when text is
// empty. An exact name match wins, then the longest city name contained in
// text, then table order; no match gives the default city.
func (r *Resolver) Resolve(text string) (Coordinate, bool) {
	q := strings.ToLower(strings.TrimSpace(text))
	if q == "" {
		return Coordinate{}, false
	}
	best := -1
	for i, c := range r.cities {
		if c.Name == q {
			return c.Coord, true
		}
		if strings.Contains(q, c.Name) && (best < 0 || len(c.Name) > len(r.cities[best].Name)) {
			best = i
		}
	}
	if best >= 0 {
		return r.cities[best].Coord, true
	}
	return r.def, true
}

// IndianCities is the built-in table. Delhi is the default city.
var IndianCities = []City{
	{"Mumbai", Coordinate{19.0760, 72.8777}},
	{"Delhi", Coordinate{28.7041, 77.1025}},
	{"New Delhi", Coordinate{28.6139, 77.2090}},
	{"Bangalore", Coordinate{12.9716, 77.5946}},
	{"Bengaluru", Coordinate{12.9716, 77.5946}},
	{"Hyderabad", Coordinate{17.3850, 78.4867}},
	{"Chennai", Coordinate{13.0827, 80.2707}},
	{"Kolkata", Coordinate{22.5726, 88.3639}},
	{"Pune", Coordinate{18.5204, 73.8567}},
	{"Ahmedabad", Coordinate{23.0225, 72.5714}},
	{"Jaipur", Coordinate{26.9124, 75.7873}},
	{"Lucknow", Coordinate{26.8467, 80.9462}},
	{"Noida", Coordinate{28.5355, 77.3910}},
	{"Gurgaon", Coordinate{28.4595, 77.0266}},
	{"Gurugram", Coordinate{28.4595, 77.0266}},
	{"Ghaziabad", Coordinate{28.6692, 77.4538}},
	{"Faridabad", Coordinate{28.4089, 77.3178}},
	{"Chandigarh", Coordinate{30.7333, 76.7794}},
	{"Indore", Coordinate{22.7196, 75.8577}},
	{"Bhopal", Coordinate{23.2599, 77.4126}},
	{"Nagpur", Coordinate{21.1458, 79.0882}},
	{"Surat", Coordinate{21.1702, 72.8311}},
	{"Kochi", Coordinate{9.9312, 76.2673}},
	{"Goa", Coordinate{15.2993, 74.1240}},
}

// DefaultCity is the fallback used by DefaultResolver.
const DefaultCity = "Delhi"

// DefaultResolver resolves against IndianCities.
var DefaultResolver = mustResolver(IndianCities, DefaultCity)

func mustResolver(cities []City, def string) *Resolver {
	r, err := NewResolver(cities, def)
	if err != nil {
		panic(err)
	}
	return r
}
