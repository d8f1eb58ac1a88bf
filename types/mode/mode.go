package mode

import "fmt"

// TransportMode is the inferred means of travel for a trip.
type TransportMode int

const (
	Unknown TransportMode = iota
	Walking
	Running
	Cycling
	Car
	Bus
	Train
	Metro
	Stationary
)

// Candidates are the modes the rule classifier scores, in tie-break order.
var Candidates = []TransportMode{Walking, Cycling, Car, Bus, Train}

func (m TransportMode) String() string {
	switch m {
	case Walking:
		return "walking"
	case Running:
		return "running"
	case Cycling:
		return "cycling"
	case Car:
		return "car"
	case Bus:
		return "bus"
	case Train:
		return "train"
	case Metro:
		return "metro"
	case Stationary:
		return "stationary"
	case Unknown:
		return "unknown"
	}
	return "unknown"
}

func FromString(s string) (TransportMode, error) {
	for m := Unknown; m <= Stationary; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return Unknown, fmt.Errorf("unknown transport mode %q", s)
}

func (m TransportMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *TransportMode) UnmarshalText(b []byte) error {
	v, err := FromString(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
