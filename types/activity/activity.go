package activity

import (
	"fmt"
	"regexp"
)

// Activity is the closed set of device-reported activities.
type Activity int

const (
	Unknown Activity = iota
	Still
	Walking
	Running
	InVehicle
	OnBicycle
	OnFoot
	Tilting
)

var All = []Activity{
	Still, Walking, Running, InVehicle, OnBicycle, OnFoot, Tilting, Unknown,
}

// Device vocabularies, both platforms, matched case-insensitively.
// Android reports IN_VEHICLE, ON_BICYCLE, ON_FOOT, RUNNING, STILL, TILTING, WALKING.
// iOS reports automotive, cycling, running, walking, stationary.
var (
	activityStill     = regexp.MustCompile(`(?i)^\s*(still|stationary)\s*$`)
	activityWalking   = regexp.MustCompile(`(?i)^\s*walking\s*$`)
	activityRunning   = regexp.MustCompile(`(?i)^\s*running\s*$`)
	activityInVehicle = regexp.MustCompile(`(?i)^\s*(in_vehicle|automotive)\s*$`)
	activityOnBicycle = regexp.MustCompile(`(?i)^\s*(on_bicycle|cycling)\s*$`)
	activityOnFoot    = regexp.MustCompile(`(?i)^\s*on_foot\s*$`)
	activityTilting   = regexp.MustCompile(`(?i)^\s*tilting\s*$`)
)

// FromString maps a device label to an Activity.
// Empty or unrecognized labels are Unknown.
func FromString(str string) Activity {
	switch {
	case str == "":
		return Unknown
	case activityStill.MatchString(str):
		return Still
	case activityWalking.MatchString(str):
		return Walking
	case activityRunning.MatchString(str):
		return Running
	case activityInVehicle.MatchString(str):
		return InVehicle
	case activityOnBicycle.MatchString(str):
		return OnBicycle
	case activityOnFoot.MatchString(str):
		return OnFoot
	case activityTilting.MatchString(str):
		return Tilting
	}
	return Unknown
}

// String implements the Stringer interface.
func (a Activity) String() string {
	switch a {
	case Still:
		return "still"
	case Walking:
		return "walking"
	case Running:
		return "running"
	case InVehicle:
		return "in_vehicle"
	case OnBicycle:
		return "on_bicycle"
	case OnFoot:
		return "on_foot"
	case Tilting:
		return "tilting"
	case Unknown:
		return "unknown"
	}
	return "unknown"
}

// MovementLikelihood is the prior probability that a device reporting
// this activity is actually moving.
func (a Activity) MovementLikelihood() float64 {
	switch a {
	case InVehicle:
		return 0.9
	case OnBicycle:
		return 0.9
	case Running:
		return 0.95
	case Walking:
		return 0.8
	case OnFoot:
		return 0.7
	case Still:
		return 0.1
	case Tilting:
		return 0.3
	case Unknown:
		return 0.5
	}
	return 0.5
}

func (a Activity) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Activity) UnmarshalText(b []byte) error {
	v := FromString(string(b))
	if v == Unknown && string(b) != "unknown" && len(b) > 0 {
		return fmt.Errorf("unknown activity %q", string(b))
	}
	*a = v
	return nil
}
