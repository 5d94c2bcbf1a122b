package matching

import "strings"

// Profile holds the display fields of a user. Only Address takes part in
// matching (it feeds the geocoder).
type Profile struct {
	FullName   string `json:"fullName" db:"full_name"`
	Age        *int   `json:"age,omitempty" db:"age"`
	Gender     string `json:"gender,omitempty" db:"gender"`
	Occupation string `json:"occupation,omitempty" db:"occupation"`
	Bio        string `json:"bio,omitempty" db:"bio"`
	Address    string `json:"address,omitempty" db:"address"`
	PhotoURL   string `json:"photoUrl,omitempty" db:"photo_url"`
}

// Preferences has one optional value per scored category plus the free-text
// location. A nil or empty field means "not set".
type Preferences struct {
	Cleanliness     *string `json:"cleanliness"`
	Smoking         *string `json:"smoking"`
	Pets            *string `json:"pets"`
	WorkSchedule    *string `json:"workSchedule"`
	SocialLevel     *string `json:"socialLevel"`
	GuestPreference *string `json:"guestPreference"`
	Music           *string `json:"music"`
	Location        *string `json:"location"`
}

func (p *Preferences) field(c Category) **string {
	switch c {
	case Cleanliness:
		return &p.Cleanliness
	case Smoking:
		return &p.Smoking
	case Pets:
		return &p.Pets
	case WorkSchedule:
		return &p.WorkSchedule
	case SocialLevel:
		return &p.SocialLevel
	case GuestPreference:
		return &p.GuestPreference
	case Music:
		return &p.Music
	}
	return nil
}

// Get returns the value set for c. ok is false when the value is unset or c
// is not a scored category.
func (p Preferences) Get(c Category) (string, bool) {
	f := p.field(c)
	if f == nil || *f == nil || **f == "" {
		return "", false
	}
	return **f, true
}

// Set stores v for c; it reports false if c is not a scored category.
// An empty v clears the value.
func (p *Preferences) Set(c Category, v string) bool {
	f := p.field(c)
	if f == nil {
		return false
	}
	if v == "" {
		*f = nil
		return true
	}
	*f = &v
	return true
}

// LocationValue returns the location preference or "".
func (p Preferences) LocationValue() string {
	if p.Location == nil {
		return ""
	}
	return *p.Location
}

// HasAny reports whether at least one scored category is set.
func (p Preferences) HasAny(catalog *Catalog) bool {
	for _, c := range catalog.Categories() {
		if _, ok := p.Get(c); ok {
			return true
		}
	}
	return false
}

// User is the read-only view of an account the matcher works on.
type User struct {
	ID               int         `json:"id"`
	Username         string      `json:"username"`
	Profile          Profile     `json:"profile"`
	Preferences      Preferences `json:"preferences"`
	ProfileCompleted bool        `json:"profileCompleted"`
}

// locationText is the text used to geocode u: the profile address, else the
// location preference.
func (u User) locationText() string {
	if addr := strings.TrimSpace(u.Profile.Address); addr != "" {
		return addr
	}
	return u.Preferences.LocationValue()
}

// MatchResult is one ranked candidate.
type MatchResult struct {
	ID              int         `json:"id"`
	Username        string      `json:"username"`
	Profile         Profile     `json:"profile"`
	Preferences     Preferences `json:"preferences"`
	MatchPercentage int         `json:"matchPercentage"`
	IsLocationMatch bool        `json:"isLocationMatch"`
	DistanceKm      *float64    `json:"distanceKm"`
}

// Ranking is the ranked result set for one requester.
type Ranking struct {
	Matches            []MatchResult `json:"matches"`
	LocationMatchCount int           `json:"locationMatchCount"`
	OtherMatchCount    int           `json:"otherMatchCount"`
}
