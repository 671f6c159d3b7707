// Package usecases contains the application's business logic
package usecases

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/serdaroglu/suizim-bot/internal/entities"
	"github.com/serdaroglu/suizim-bot/internal/integration/openai"
	"github.com/serdaroglu/suizim-bot/internal/observability"
	"github.com/serdaroglu/suizim-bot/internal/repository"
)

// DefaultDetailTTL is how long per-dam readings are reused before the sources are asked again
const DefaultDetailTTL = 10 * time.Minute

// ReservoirSource is every source adapter the aggregator dispatches to.
// Implementations report failures as empty results.
type ReservoirSource interface {
	FetchIstanbulDetails(ctx context.Context) []entities.ReservoirReading
	FetchIstanbulGeneralRate(ctx context.Context) (entities.GeneralOccupancy, bool)
	FetchIBBGeneralRate(ctx context.Context) (entities.GeneralOccupancy, bool)
	FetchAnkaraGeneralRate(ctx context.Context) (entities.GeneralOccupancy, bool)
	FetchIzmirData(ctx context.Context) []entities.ReservoirReading
	FetchIzmirAPIData(ctx context.Context) []entities.ReservoirReading
	FetchBursaData(ctx context.Context) []entities.ReservoirReading
}

type (
	detailFetcher  func(ctx context.Context) []entities.ReservoirReading
	generalFetcher func(ctx context.Context) (entities.GeneralOccupancy, bool)
)

// cityPlan lists the sources of a city in the order they are tried
type cityPlan struct {
	operator string
	details  []detailFetcher
	generals []generalFetcher
}

// Options configures the aggregator
type Options struct {
	DefaultCity entities.City
	DetailTTL   time.Duration
	Clock       clockwork.Clock

	// OpenDataFallback asks the İBB open data set for the İstanbul rate when the İSKİ page yields none.
	OpenDataFallback bool
}

type cacheEntry struct {
	data       []entities.ReservoirReading
	lastUpdate time.Time
}

// detailCache holds the latest per-dam readings of each city and when they were fetched
type detailCache struct {
	entries map[entities.City]cacheEntry
	mutex   sync.RWMutex
}

// ReservoirUseCase aggregates reservoir data per city
type ReservoirUseCase struct {
	repo          repository.ReservoirRepository
	openAIService openai.OpenAIService
	metrics       *observability.Metrics
	opts          Options
	plans         map[entities.City]cityPlan
	cache         detailCache

	// fetchMu keeps one source call in flight so render requests queue instead of superseding each other
	fetchMu sync.Mutex
}

// NewReservoirUseCase creates a new reservoir use case. repo and openAIService may be nil when
// persistence or free-text handling is not needed.
func NewReservoirUseCase(source ReservoirSource, repo repository.ReservoirRepository, openAIService openai.OpenAIService, metrics *observability.Metrics, opts Options) *ReservoirUseCase {
	if opts.DefaultCity == "" {
		opts.DefaultCity = entities.Istanbul
	}
	if opts.DetailTTL <= 0 {
		opts.DetailTTL = DefaultDetailTTL
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	istanbulGenerals := []generalFetcher{source.FetchIstanbulGeneralRate}
	if opts.OpenDataFallback {
		istanbulGenerals = append(istanbulGenerals, source.FetchIBBGeneralRate)
	}

	return &ReservoirUseCase{
		repo:          repo,
		openAIService: openAIService,
		metrics:       metrics,
		opts:          opts,
		plans: map[entities.City]cityPlan{
			entities.Istanbul: {
				operator: "İSKİ",
				details:  []detailFetcher{source.FetchIstanbulDetails},
				generals: istanbulGenerals,
			},
			entities.Ankara: {
				operator: "ASKİ",
				generals: []generalFetcher{source.FetchAnkaraGeneralRate},
			},
			entities.Izmir: {
				operator: "İZSU",
				details:  []detailFetcher{source.FetchIzmirData, source.FetchIzmirAPIData},
			},
			entities.Bursa: {
				operator: "BUSKİ",
				details:  []detailFetcher{source.FetchBursaData},
			},
		},
		cache: detailCache{entries: make(map[entities.City]cacheEntry)},
	}
}

func (uc *ReservoirUseCase) cityOrDefault(city entities.City) entities.City {
	if city == "" {
		return uc.opts.DefaultCity
	}
	return city
}

// DefaultCity returns the city used when a caller names none
func (uc *ReservoirUseCase) DefaultCity() entities.City {
	return uc.opts.DefaultCity
}

// GetAvailableCities returns the display names of all supported cities
func (uc *ReservoirUseCase) GetAvailableCities() []string {
	names := make([]string, 0, len(entities.Cities))
	for _, c := range entities.Cities {
		names = append(names, string(c))
	}
	return names
}

func (uc *ReservoirUseCase) cached(city entities.City) ([]entities.ReservoirReading, bool) {
	uc.cache.mutex.RLock()
	defer uc.cache.mutex.RUnlock()

	entry, ok := uc.cache.entries[city]
	if !ok || len(entry.data) == 0 || uc.opts.Clock.Since(entry.lastUpdate) >= uc.opts.DetailTTL {
		return nil, false
	}
	log.Printf("Using cached %s data (last updated: %s)", city, entry.lastUpdate.Format(time.RFC3339))
	return append([]entities.ReservoirReading(nil), entry.data...), true
}

func (uc *ReservoirUseCase) store(city entities.City, data []entities.ReservoirReading) {
	uc.cache.mutex.Lock()
	defer uc.cache.mutex.Unlock()

	now := uc.opts.Clock.Now()
	uc.cache.entries[city] = cacheEntry{data: data, lastUpdate: now}
	log.Printf("Cache updated with %d %s entries at %s", len(data), city, now.Format(time.RFC3339))
}

func (uc *ReservoirUseCase) observeCache(result string) {
	if uc.metrics != nil {
		uc.metrics.DetailCache.WithLabelValues(result).Inc()
	}
}

// FetchReservoirData returns the per-dam readings of city. Fresh cached readings are reused.
// An unknown city or a city without per-dam sources yields an empty list.
func (uc *ReservoirUseCase) FetchReservoirData(ctx context.Context, city entities.City) []entities.ReservoirReading {
	city = uc.cityOrDefault(city)
	if data, ok := uc.cached(city); ok {
		uc.observeCache("hit")
		return data
	}
	uc.observeCache("miss")
	return uc.fetchDetail(ctx, city, false)
}

// fetchDetail asks the detail sources of city in order and caches the first non-empty result.
// Unless force is set, readings cached by a caller that held the lock first are reused.
func (uc *ReservoirUseCase) fetchDetail(ctx context.Context, city entities.City, force bool) []entities.ReservoirReading {
	plan, ok := uc.plans[city]
	if !ok || len(plan.details) == 0 {
		log.Printf("No per-dam source for %s", city)
		return nil
	}

	uc.fetchMu.Lock()
	defer uc.fetchMu.Unlock()

	if !force {
		if data, ok := uc.cached(city); ok {
			return data
		}
	}
	for i, fetch := range plan.details {
		if ctx.Err() != nil {
			return nil
		}
		data := fetch(ctx)
		if len(data) > 0 {
			uc.store(city, data)
			return data
		}
		log.Printf("Detail source %d/%d for %s returned nothing", i+1, len(plan.details), city)
	}
	return nil
}

// GetGeneralOccupancy returns the city-wide rate. A record named "... Geneli" is used verbatim,
// otherwise the mean of the per-dam readings, otherwise the city's own general sources.
// Cities without a general source derive from per-dam readings, fetching them if needed.
// The zero value means no source had data.
func (uc *ReservoirUseCase) GetGeneralOccupancy(ctx context.Context, city entities.City) entities.GeneralOccupancy {
	city = uc.cityOrDefault(city)
	plan, ok := uc.plans[city]
	if !ok {
		log.Printf("Unknown city %q", city)
		return entities.GeneralOccupancy{}
	}

	detail, hit := uc.cached(city)
	switch {
	case hit:
		uc.observeCache("hit")
	case len(plan.generals) == 0:
		uc.observeCache("miss")
		detail = uc.fetchDetail(ctx, city, false)
	}
	return uc.generalFrom(ctx, city, plan, detail)
}

func (uc *ReservoirUseCase) generalFrom(ctx context.Context, city entities.City, plan cityPlan, detail []entities.ReservoirReading) entities.GeneralOccupancy {
	if general, ok := deriveGeneral(city, plan.operator, detail); ok {
		return general
	}

	uc.fetchMu.Lock()
	defer uc.fetchMu.Unlock()

	// Detail may have landed while waiting for the lock.
	if cached, ok := uc.cached(city); ok {
		if general, ok := deriveGeneral(city, plan.operator, cached); ok {
			return general
		}
	}
	for _, fetch := range plan.generals {
		if ctx.Err() != nil {
			break
		}
		if general, ok := fetch(ctx); ok {
			return general
		}
	}
	log.Printf("No general occupancy available for %s", city)
	return entities.GeneralOccupancy{}
}

// GetGeneralOccupancyRate returns the city-wide rate and its as-of label, or (0, "")
func (uc *ReservoirUseCase) GetGeneralOccupancyRate(ctx context.Context, city entities.City) (float64, string) {
	g := uc.GetGeneralOccupancy(ctx, city)
	return g.Rate, g.AsOfLabel
}

func deriveGeneral(city entities.City, operator string, detail []entities.ReservoirReading) (entities.GeneralOccupancy, bool) {
	if len(detail) == 0 {
		return entities.GeneralOccupancy{}, false
	}
	label := fmt.Sprintf("Canlı Veri (%s)", city)

	for _, r := range detail {
		if r.IsGeneral() {
			return entities.GeneralOccupancy{Rate: r.OccupancyRate, SourceLabel: operator, AsOfLabel: label}, true
		}
	}

	var total float64
	for _, r := range detail {
		total += r.OccupancyRate
	}
	return entities.GeneralOccupancy{
		Rate:        total / float64(len(detail)),
		SourceLabel: operator,
		AsOfLabel:   label,
	}, true
}

// RefreshCity fetches fresh readings and the general rate of city and stores them as its latest snapshot.
// Nothing is stored when every source came back empty.
func (uc *ReservoirUseCase) RefreshCity(ctx context.Context, city entities.City) error {
	city = uc.cityOrDefault(city)
	plan, ok := uc.plans[city]
	if !ok {
		return fmt.Errorf("unknown city %q", city)
	}
	log.Printf("Refreshing reservoir data for %s", city)

	detail := uc.fetchDetail(ctx, city, true)
	general := uc.generalFrom(ctx, city, plan, detail)
	if len(detail) == 0 && general.IsZero() {
		log.Printf("Warning: no data for %s, keeping the previous snapshot", city)
		return nil
	}
	if uc.repo == nil {
		return nil
	}
	if err := uc.repo.SaveSnapshot(city, detail, general); err != nil {
		return fmt.Errorf("failed to save %s snapshot: %w", city, err)
	}
	return nil
}

// RefreshAll refreshes every supported city in turn
func (uc *ReservoirUseCase) RefreshAll(ctx context.Context) error {
	log.Println("Starting reservoir data refresh process...")
	var errs []error
	for _, city := range entities.Cities {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := uc.RefreshCity(ctx, city); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// GetLastUpdateTime returns when a snapshot was last stored
func (uc *ReservoirUseCase) GetLastUpdateTime() (time.Time, error) {
	if uc.repo == nil {
		return time.Time{}, nil
	}
	return uc.repo.GetLastUpdateTime()
}

// GetCityReport returns a formatted report for city from live data, falling back to the
// stored snapshot when the sources have nothing.
func (uc *ReservoirUseCase) GetCityReport(ctx context.Context, city entities.City) string {
	city = uc.cityOrDefault(city)
	detail := uc.FetchReservoirData(ctx, city)
	general := uc.GetGeneralOccupancy(ctx, city)

	if len(detail) == 0 && general.IsZero() && uc.repo != nil {
		log.Printf("Live data for %s unavailable, reading stored snapshot", city)
		var err error
		if detail, err = uc.repo.GetReadings(city); err != nil {
			log.Printf("Error reading stored readings for %s: %v", city, err)
		}
		if general, err = uc.repo.GetGeneral(city); err != nil {
			log.Printf("Error reading stored general occupancy for %s: %v", city, err)
		}
	}
	return uc.FormatReservoirInfo(city, detail, general)
}

// HandleNaturalLanguageQuery interprets a user's free-text query using the AI service
// and returns an appropriate response string.
func (uc *ReservoirUseCase) HandleNaturalLanguageQuery(ctx context.Context, query string) (string, error) {
	log.Printf("Interpreting natural language query: %s", query)
	if uc.openAIService == nil {
		return "Bunu anlayamadım. Komutlar için /help yazabilirsin.", nil
	}

	agentResp, err := uc.openAIService.InterpretUserQuery(ctx, query, uc.GetAvailableCities())
	if err != nil {
		log.Printf("Error interpreting user query via OpenAI: %v", err)
		return "Şu an sorunu anlayamıyorum. Biraz sonra tekrar dene ya da /help yaz.", nil
	}

	log.Printf("Agent response: Command='%s', City='%s', Message='%s'",
		agentResp.CommandName, agentResp.City, agentResp.UserMessage)

	switch agentResp.CommandName {
	case openai.CommandGetReservoirData:
		city, ok := entities.ParseCity(agentResp.City)
		if !ok {
			log.Printf("Agent identified intent %s but no supported city", agentResp.CommandName)
			if agentResp.UserMessage != "" {
				return agentResp.UserMessage, nil
			}
			return "Hangi şehir? Desteklenen şehirler için /cities yaz.", nil
		}
		msg := agentResp.UserMessage
		if msg != "" {
			msg += "\n\n"
		}
		return msg + uc.GetCityReport(ctx, city), nil
	case openai.CommandGeneralQuery:
		return agentResp.UserMessage, nil
	default:
		log.Printf("Agent returned unexpected command: %s", agentResp.CommandName)
		return "Buna nasıl cevap vereceğimi bilemedim. Komutlar için /help yazabilirsin.", nil
	}
}

// FormatReservoirInfo formats the readings and general rate of city for display
func (uc *ReservoirUseCase) FormatReservoirInfo(city entities.City, readings []entities.ReservoirReading, general entities.GeneralOccupancy) string {
	if len(readings) == 0 && general.IsZero() {
		return fmt.Sprintf("%s için şu an baraj verisi yok.", city)
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("%s baraj doluluk oranları\n\n", city))

	if !general.IsZero() {
		result.WriteString(fmt.Sprintf("💧 %s Geneli: %%%.2f\n", city, general.Rate))
		if general.SourceLabel != "" {
			result.WriteString(fmt.Sprintf("🏛 Kaynak: %s\n", general.SourceLabel))
		}
		if general.AsOfLabel != "" {
			result.WriteString(fmt.Sprintf("🕒 %s\n", general.AsOfLabel))
		}
		result.WriteString("\n")
	}

	for _, r := range readings {
		if r.IsGeneral() {
			continue
		}
		result.WriteString(fmt.Sprintf("📍 %s: %%%.2f\n", r.Name, r.OccupancyRate))
	}

	return strings.TrimRight(result.String(), "\n")
}
