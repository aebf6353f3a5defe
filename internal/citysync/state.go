// Package citysync keeps a local copy of the remote city collection and
// reconciles it after every CRUD call.
package citysync

import (
	"encoding/json"
	"fmt"

	"github.com/FACorreiaa/worldwise-cities/internal/types"
)

// State is the client-side view of the collection.
type State struct {
	Cities      []types.City `json:"cities"`
	IsLoading   bool         `json:"isLoading"`
	CurrentCity types.City   `json:"currentCity"`
	Error       string       `json:"error"`
}

// InitialState is {cities: [], isLoading: false, currentCity: {}, error: ""}.
func InitialState() State {
	return State{Cities: []types.City{}}
}

// MarshalJSON renders an empty current city as {} and a nil list as [].
func (s State) MarshalJSON() ([]byte, error) {
	var current any = s.CurrentCity
	if s.CurrentCity.IsZero() {
		current = struct{}{}
	}
	cities := s.Cities
	if cities == nil {
		cities = []types.City{}
	}
	return json.Marshal(struct {
		Cities      []types.City `json:"cities"`
		IsLoading   bool         `json:"isLoading"`
		CurrentCity any          `json:"currentCity"`
		Error       string       `json:"error"`
	}{cities, s.IsLoading, current, s.Error})
}

// clone copies the slice so callers can't reach into the synchronizer's state.
func (s State) clone() State {
	out := s
	out.Cities = make([]types.City, len(s.Cities))
	for i, c := range s.Cities {
		out.Cities[i] = c.Clone()
	}
	out.CurrentCity = s.CurrentCity.Clone()
	return out
}

// Action is the closed set of transitions. Only this package can implement it.
type Action interface {
	action()
	fmt.Stringer
}

type (
	Loading      struct{}
	CitiesLoaded struct{ Payload []types.City }
	CityLoaded   struct{ Payload types.City }
	CityCreated  struct{ Payload types.City }
	CityDeleted  struct{ ID int64 }
	Rejected     struct{ Message string }
)

func (Loading) action()      {}
func (CitiesLoaded) action() {}
func (CityLoaded) action()   {}
func (CityCreated) action()  {}
func (CityDeleted) action()  {}
func (Rejected) action()     {}

func (Loading) String() string      { return "loading" }
func (CitiesLoaded) String() string { return "cities/loaded" }
func (CityLoaded) String() string   { return "city/loaded" }
func (CityCreated) String() string  { return "city/created" }
func (CityDeleted) String() string  { return "city/deleted" }
func (Rejected) String() string     { return "rejected" }

// Reduce applies a to s and returns the next state. s is not modified.
// An Action outside the set above is a programming error and panics.
func Reduce(s State, a Action) State {
	next := s.clone()
	switch a := a.(type) {
	case Loading:
		next.IsLoading = true
	case CitiesLoaded:
		next.IsLoading = false
		next.Cities = cloneCities(a.Payload)
		next.Error = ""
	case CityLoaded:
		next.IsLoading = false
		next.CurrentCity = a.Payload.Clone()
	case CityCreated:
		next.IsLoading = false
		next.Cities = append(next.Cities, a.Payload.Clone())
		next.CurrentCity = a.Payload.Clone()
	case CityDeleted:
		next.IsLoading = false
		kept := next.Cities[:0]
		for _, c := range next.Cities {
			if c.ID != a.ID {
				kept = append(kept, c)
			}
		}
		next.Cities = kept
		next.CurrentCity = types.City{}
	case Rejected:
		next.IsLoading = false
		next.Error = a.Message
	default:
		panic(fmt.Sprintf("citysync: unknown action type %T", a))
	}
	return next
}

func cloneCities(in []types.City) []types.City {
	out := make([]types.City, len(in))
	for i, c := range in {
		out[i] = c.Clone()
	}
	return out
}
