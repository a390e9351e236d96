package stationstatus

import (
	"strings"
)

type Status struct {
	Name string
}

func (s Status) Code() string {
	return s.Name
}

type Enum struct {
	New  Status
	Done Status
}

// A station row starts NEW and moves to DONE once; it never reopens.
var Statuses = Enum{
	New:  Status{Name: "NEW"},
	Done: Status{Name: "DONE"},
}

var All = []Status{
	Statuses.New,
	Statuses.Done,
}

// ByName returns the status for a given name, or nil if not found
func ByName(name string) *Status {
	for _, s := range All {
		if s.Name == strings.ToUpper(name) {
			return &s
		}
	}
	return nil
}
