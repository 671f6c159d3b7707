package integration

import (
	"context"
	"log"

	"github.com/serdaroglu/suizim-bot/internal/entities"
)

// FetchIstanbulDetails scrapes per-dam values from the rendered İSKİ page
func (s *ReservoirScraper) FetchIstanbulDetails(ctx context.Context) []entities.ReservoirReading {
	log.Printf("Rendering İSKİ page for dam details")
	readings := s.toReadings(s.renderer.ScrapeList(ctx, s.urls.ISKI), entities.Istanbul)
	s.observe(SourceISKI, len(readings), nil)
	return readings
}

// FetchIstanbulGeneralRate scrapes the city-wide rate shown on the İSKİ page
func (s *ReservoirScraper) FetchIstanbulGeneralRate(ctx context.Context) (entities.GeneralOccupancy, bool) {
	log.Printf("Rendering İSKİ page for general rate")
	return s.scrapeGeneral(ctx, SourceISKI, s.urls.ISKI, "İSKİ")
}

// FetchAnkaraGeneralRate scrapes the ASKİ total rate. ASKİ publishes no per-dam values.
func (s *ReservoirScraper) FetchAnkaraGeneralRate(ctx context.Context) (entities.GeneralOccupancy, bool) {
	log.Printf("Rendering ASKİ page for general rate")
	return s.scrapeGeneral(ctx, SourceASKI, s.urls.ASKI, "ASKİ")
}

// FetchIzmirData scrapes per-dam values from the rendered İZSU page
func (s *ReservoirScraper) FetchIzmirData(ctx context.Context) []entities.ReservoirReading {
	log.Printf("Rendering İZSU page for dam details")
	readings := s.toReadings(s.renderer.ScrapeList(ctx, s.urls.IZSU), entities.Izmir)
	s.observe(SourceIZSU, len(readings), nil)
	return readings
}

func (s *ReservoirScraper) scrapeGeneral(ctx context.Context, source, url, label string) (entities.GeneralOccupancy, bool) {
	rate, ok := s.renderer.ScrapeValue(ctx, url)
	if !ok {
		s.observe(source, 0, nil)
		return entities.GeneralOccupancy{}, false
	}
	s.observe(source, 1, nil)
	return entities.GeneralOccupancy{
		Rate:        rate,
		SourceLabel: label,
		AsOfLabel:   s.liveLabel(),
	}, true
}
