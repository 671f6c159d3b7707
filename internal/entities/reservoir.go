// Package entities contains the core domain objects for the reservoir bot
package entities

import (
	"strings"
	"time"
)

// City identifies a city whose reservoirs we track
type City string

const (
	Istanbul City = "İstanbul"
	Ankara   City = "Ankara"
	Izmir    City = "İzmir"
	Bursa    City = "Bursa"
)

// Cities lists every supported city in display order
var Cities = []City{Istanbul, Ankara, Izmir, Bursa}

var cityAliases = map[string]City{
	"istanbul": Istanbul,
	"ankara":   Ankara,
	"izmir":    Izmir,
	"bursa":    Bursa,
}

// ParseCity resolves a user-supplied city name. Both the display spelling and the
// plain ASCII spelling are accepted, case-insensitively.
func ParseCity(name string) (City, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.ReplaceAll(key, "ı", "i")
	city, ok := cityAliases[key]
	return city, ok
}

// ReservoirReading is one dam's occupancy percentage at a point in time
type ReservoirReading struct {
	ID            int64
	Name          string    // Dam or reservoir name
	OccupancyRate float64   // Percentage in [0, 100]
	City          City      // City the dam serves
	ObservedAt    time.Time // When the value was observed
}

// IsGeneral reports whether the source labels this record as the city-wide aggregate
func (r ReservoirReading) IsGeneral() bool {
	return strings.Contains(r.Name, "Geneli")
}

// GeneralOccupancy is the aggregate occupancy of a city. It is derived per request.
type GeneralOccupancy struct {
	Rate        float64
	SourceLabel string
	AsOfLabel   string
}

// IsZero reports the neutral "no data" value
func (g GeneralOccupancy) IsZero() bool {
	return g.Rate == 0 && g.AsOfLabel == ""
}
