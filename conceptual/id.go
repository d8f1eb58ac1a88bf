package conceptual

// UserID identifies the person (device owner) whose samples are being tracked.
type UserID string

func (u UserID) String() string {
	return string(u)
}

func (u UserID) Empty() bool {
	return u == ""
}

// TripID identifies a trip while it is open in memory.
// It is not the identifier assigned by persistence.
type TripID string

func (t TripID) String() string {
	return string(t)
}

func (t TripID) Empty() bool {
	return t == ""
}
