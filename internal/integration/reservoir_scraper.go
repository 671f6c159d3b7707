// Package integration handles external service interactions
package integration

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/serdaroglu/suizim-bot/internal/entities"
	"github.com/serdaroglu/suizim-bot/internal/integration/extract"
	"github.com/serdaroglu/suizim-bot/internal/integration/render"
	"github.com/serdaroglu/suizim-bot/internal/observability"
)

// Source names used in logs and metrics
const (
	SourceBursa    = "bursa"
	SourceIzmirAPI = "izmir-api"
	SourceIBB      = "ibb"
	SourceISKI     = "iski"
	SourceASKI     = "aski"
	SourceIZSU     = "izsu"
)

// SourceURLs holds the endpoint of every source. Empty fields fall back to the defaults.
type SourceURLs struct {
	Bursa    string // BUSKİ dam JSON
	IzmirAPI string // İzmir open data dam JSON
	IBB      string // İBB datastore search (legacy)
	ISKI     string // İSKİ rendered page
	ASKI     string // ASKİ rendered page
	IZSU     string // İZSU rendered page
}

// DefaultSourceURLs returns the production endpoints
func DefaultSourceURLs() SourceURLs {
	return SourceURLs{
		Bursa:    "https://bapi.bursa.bel.tr/apigateway/bbbAcikVeri_Buski/baraj",
		IzmirAPI: "https://openapi.izmir.bel.tr/api/izsu/barajdurum",
		IBB:      "https://data.ibb.gov.tr/api/3/action/datastore_search",
		ISKI:     "https://iski.istanbul/baraj-doluluk/",
		ASKI:     "https://www.aski.gov.tr/tr/Baraj.aspx",
		IZSU:     "https://www.izsu.gov.tr/tr/Barajlar/BarajSuDolulukOranlari",
	}
}

func (u SourceURLs) withDefaults() SourceURLs {
	def := DefaultSourceURLs()
	if u.Bursa == "" {
		u.Bursa = def.Bursa
	}
	if u.IzmirAPI == "" {
		u.IzmirAPI = def.IzmirAPI
	}
	if u.IBB == "" {
		u.IBB = def.IBB
	}
	if u.ISKI == "" {
		u.ISKI = def.ISKI
	}
	if u.ASKI == "" {
		u.ASKI = def.ASKI
	}
	if u.IZSU == "" {
		u.IZSU = def.IZSU
	}
	return u
}

// ankaraScript collects the ASKİ rate labels and, as a fallback, the body markup
const ankaraScript = `JSON.stringify({` +
	`total: (document.getElementById('LabelBarajOrani1') || {}).innerText || null, ` +
	`active: (document.getElementById('LabelBarajOrani') || {}).innerText || null, ` +
	`markup: document.body ? document.body.innerHTML : ""})`

// RenderProfiles returns the page profiles the render controller needs for our sources
func RenderProfiles() []render.Profile {
	return []render.Profile{
		{Host: "iski.istanbul", Kind: render.KindValue, Script: render.ScriptInnerText, Value: extract.IstanbulGeneral},
		{Host: "iski.istanbul", Kind: render.KindList, Script: render.ScriptOuterHTML, List: extract.IstanbulDetails},
		{Host: "aski.gov.tr", Kind: render.KindValue, Script: ankaraScript, Value: extract.AnkaraGeneral},
		{Host: "izsu.gov.tr", Kind: render.KindList, Script: render.ScriptInnerText, List: extract.IzmirDetails},
	}
}

// Renderer is the part of the render controller the scraper depends on
type Renderer interface {
	ScrapeValue(ctx context.Context, url string) (float64, bool)
	ScrapeList(ctx context.Context, url string) []extract.Match
}

// ReservoirScraper fetches reservoir data from every source. Expected failures are logged and
// reported as empty results, never as errors.
type ReservoirScraper struct {
	urls       SourceURLs
	httpClient *http.Client
	renderer   Renderer
	metrics    *observability.Metrics
	now        func() time.Time
}

// NewReservoirScraper creates a new reservoir scraper
func NewReservoirScraper(urls SourceURLs, renderer Renderer, metrics *observability.Metrics) *ReservoirScraper {
	return &ReservoirScraper{
		urls: urls.withDefaults(),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		renderer: renderer,
		metrics:  metrics,
		now:      time.Now,
	}
}

// liveLabel is the as-of label for values read from a live page today
func (s *ReservoirScraper) liveLabel() string {
	return fmt.Sprintf("Canlı Veri (%s)", s.now().Format("02.01.2006"))
}

func (s *ReservoirScraper) toReadings(matches []extract.Match, city entities.City) []entities.ReservoirReading {
	observedAt := s.now()
	readings := make([]entities.ReservoirReading, 0, len(matches))
	for _, m := range matches {
		readings = append(readings, entities.ReservoirReading{
			Name:          m.Name,
			OccupancyRate: m.Rate,
			City:          city,
			ObservedAt:    observedAt,
		})
	}
	return readings
}

func (s *ReservoirScraper) observe(source string, n int, err error) {
	if err != nil {
		log.Printf("Warning: %s fetch failed: %v", source, err)
	} else {
		log.Printf("%s fetch returned %d readings", source, n)
	}
	s.metrics.ObserveFetch(source, n, err)
}
