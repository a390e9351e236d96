package station

import "strings"

type Station struct {
	Name string
}

func (s Station) Code() string {
	return s.Name
}

type Enum struct {
	Kitchen Station
	Grill   Station
	Dessert Station
	Bar     Station
	Coffee  Station
	Other   Station
}

var Stations = Enum{
	Kitchen: Station{Name: "KITCHEN"},
	Grill:   Station{Name: "GRILL"},
	Dessert: Station{Name: "DESSERT"},
	Bar:     Station{Name: "BAR"},
	Coffee:  Station{Name: "COFFEE"},
	Other:   Station{Name: "OTHER"},
}

var All = []Station{
	Stations.Kitchen,
	Stations.Grill,
	Stations.Dessert,
	Stations.Bar,
	Stations.Coffee,
	Stations.Other,
}

// Normalize turns free-form station input ("bar ", "Bar") into its code form.
func Normalize(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// Set is an ordered collection of enabled station codes.
type Set struct {
	codes []string
	index map[string]struct{}
}

// NewSet builds a set from station names, dropping blanks and duplicates.
func NewSet(names ...string) Set {
	s := Set{index: make(map[string]struct{}, len(names))}
	for _, n := range names {
		code := Normalize(n)
		if code == "" {
			continue
		}
		if _, ok := s.index[code]; ok {
			continue
		}
		s.index[code] = struct{}{}
		s.codes = append(s.codes, code)
	}
	return s
}

// DefaultSet enables every predefined station.
func DefaultSet() Set {
	names := make([]string, 0, len(All))
	for _, st := range All {
		names = append(names, st.Code())
	}
	return NewSet(names...)
}

func (s Set) Contains(name string) bool {
	if s.index == nil {
		return false
	}
	_, ok := s.index[Normalize(name)]
	return ok
}

func (s Set) Codes() []string {
	out := make([]string, len(s.codes))
	copy(out, s.codes)
	return out
}

func (s Set) Len() int {
	return len(s.codes)
}
