package s2

/*
https://s2geometry.io/resources/s2cell_statistics.html

level  average area  edge length (approx)
05     83018.57 km2  ~290 km   continental
08     1297.17 km2   ~37 km    about a day's walk/ride
13     1.27 km2      ~1.1 km   about a kilometer (square)
16     19793.17 m2   ~140 m    throwing distance
18     1237.07 m2    ~35 m     a house lot
23     1.21 m2       ~1.1 m    a human body
*/

// CellLevel represents the S2 cell level, from 0-30.
type CellLevel int

const (
	CellLevel0 CellLevel = 0

	// CellLevel5 is a modest nation-state.
	CellLevel5 CellLevel = 5

	// CellLevel8 is about a day's ride.
	CellLevel8 CellLevel = 8

	// CellLevel13 is about a kilometer on an edge. Trip endpoints are
	// summarized at this level: coarse enough to group a neighborhood's
	// departures, fine enough to tell neighborhoods apart.
	CellLevel13 CellLevel = 13

	// CellLevel16 is approximately 140m on an edge, or an area of about 5 acres.
	CellLevel16 CellLevel = 16

	// CellLevel18 is about 100ft on a side. Small residential plot.
	CellLevel18 CellLevel = 18

	// CellLevel23 is approximately a human body; 1 square meter.
	CellLevel23 CellLevel = 23

	CellLevel30 CellLevel = 30
)

// DefaultTripEndpointLevel is the level of trip origin and destination tokens.
const DefaultTripEndpointLevel = CellLevel13

func (l CellLevel) Valid() bool {
	return l >= CellLevel0 && l <= CellLevel30
}
