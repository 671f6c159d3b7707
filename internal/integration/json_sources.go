package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/serdaroglu/suizim-bot/internal/entities"
	"github.com/serdaroglu/suizim-bot/internal/integration/extract"
)

const (
	ibbResourceID    = "b68cbdb0-9bf5-474c-91c4-9256c07c4bdf"
	maxResponseBytes = 2 * 1024 * 1024
	snippetRunes     = 500
)

// BUSKİ response types

type bursaResponse struct {
	Sonuc []bursaDam `json:"sonuc"`
}

type bursaDam struct {
	BarajAdi     string  `json:"barajAdi"`
	DolulukOrani float64 `json:"dolulukOrani"`
	OlcumTarihi  *int64  `json:"olcumTarihi,omitempty"` // epoch milliseconds
}

// İzmir open data response type: name, occupancy, capacity, status
type izmirDam struct {
	BarajKuyuAdi         string  `json:"BarajKuyuAdi"`
	DolulukOrani         float64 `json:"DolulukOrani"`
	MaksimumSuKapasitesi float64 `json:"MaksimumSuKapasitesi"`
	SuDurumu             float64 `json:"SuDurumu"`
}

// İBB datastore response types

type ibbResponse struct {
	Result ibbResult `json:"result"`
}

type ibbResult struct {
	Records []ibbRecord `json:"records"`
}

type ibbRecord struct {
	DATE                    string  `json:"DATE"`
	GENERALDAMOCCUPANCYRATE float64 `json:"GENERAL_DAM_OCCUPANCY_RATE"`
}

// getJSON issues a single GET and decodes the body into v
func (s *ReservoirScraper) getJSON(ctx context.Context, fullURL string, v any) error {
	log.Printf("Sending HTTP request to %s", fullURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d %s: %s", resp.StatusCode, resp.Status, extract.Snippet(string(body), snippetRunes))
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode response: %w (payload: %s)", err, extract.Snippet(string(body), snippetRunes))
	}
	return nil
}

// FetchBursaData retrieves every BUSKİ dam, including the "Bursa Geneli" aggregate record
func (s *ReservoirScraper) FetchBursaData(ctx context.Context) []entities.ReservoirReading {
	readings, err := s.fetchBursa(ctx)
	s.observe(SourceBursa, len(readings), err)
	return readings
}

func (s *ReservoirScraper) fetchBursa(ctx context.Context) ([]entities.ReservoirReading, error) {
	var resp bursaResponse
	if err := s.getJSON(ctx, s.urls.Bursa, &resp); err != nil {
		return nil, err
	}

	now := s.now()
	readings := make([]entities.ReservoirReading, 0, len(resp.Sonuc))
	for _, dam := range resp.Sonuc {
		if !extract.InRange(dam.DolulukOrani) {
			log.Printf("Warning: Skipping Bursa dam %s with out-of-range rate %.2f", dam.BarajAdi, dam.DolulukOrani)
			continue
		}
		observedAt := now
		if dam.OlcumTarihi != nil {
			observedAt = time.UnixMilli(*dam.OlcumTarihi)
		}
		readings = append(readings, entities.ReservoirReading{
			Name:          dam.BarajAdi,
			OccupancyRate: dam.DolulukOrani,
			City:          entities.Bursa,
			ObservedAt:    observedAt,
		})
	}
	return readings, nil
}

// FetchIzmirAPIData retrieves İzmir dams from the open data API
func (s *ReservoirScraper) FetchIzmirAPIData(ctx context.Context) []entities.ReservoirReading {
	readings, err := s.fetchIzmirAPI(ctx)
	s.observe(SourceIzmirAPI, len(readings), err)
	return readings
}

func (s *ReservoirScraper) fetchIzmirAPI(ctx context.Context) ([]entities.ReservoirReading, error) {
	var dams []izmirDam
	if err := s.getJSON(ctx, s.urls.IzmirAPI, &dams); err != nil {
		return nil, err
	}

	now := s.now()
	readings := make([]entities.ReservoirReading, 0, len(dams))
	for _, dam := range dams {
		name := strings.TrimSpace(dam.BarajKuyuAdi)
		if name == "" || !extract.InRange(dam.DolulukOrani) {
			continue
		}
		readings = append(readings, entities.ReservoirReading{
			Name:          name,
			OccupancyRate: dam.DolulukOrani,
			City:          entities.Izmir,
			ObservedAt:    now,
		})
	}
	return readings, nil
}

// FetchIBBGeneralRate reads the latest İstanbul general rate from the İBB open data portal
func (s *ReservoirScraper) FetchIBBGeneralRate(ctx context.Context) (entities.GeneralOccupancy, bool) {
	general, err := s.fetchIBB(ctx)
	n := 0
	if err == nil && !general.IsZero() {
		n = 1
	}
	s.observe(SourceIBB, n, err)
	return general, n == 1
}

func (s *ReservoirScraper) fetchIBB(ctx context.Context) (entities.GeneralOccupancy, error) {
	params := url.Values{
		"resource_id": {ibbResourceID},
		"sort":        {"DATE desc"},
		"limit":       {"1"},
	}
	var resp ibbResponse
	if err := s.getJSON(ctx, s.urls.IBB+"?"+params.Encode(), &resp); err != nil {
		return entities.GeneralOccupancy{}, err
	}

	// Newest record wins even when sort was ignored.
	var latest *ibbRecord
	for i := range resp.Result.Records {
		rec := &resp.Result.Records[i]
		if latest == nil || rec.DATE > latest.DATE {
			latest = rec
		}
	}
	if latest == nil || !extract.InRange(latest.GENERALDAMOCCUPANCYRATE) {
		return entities.GeneralOccupancy{}, nil
	}

	date := latest.DATE
	if i := strings.IndexByte(date, 'T'); i > 0 {
		date = date[:i]
	}
	return entities.GeneralOccupancy{
		Rate:        latest.GENERALDAMOCCUPANCYRATE,
		SourceLabel: "İBB Açık Veri",
		AsOfLabel:   fmt.Sprintf("Açık Veri (%s)", date),
	}, nil
}
