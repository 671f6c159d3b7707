package usecases

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serdaroglu/suizim-bot/internal/entities"
	"github.com/serdaroglu/suizim-bot/internal/integration/openai"
	"github.com/serdaroglu/suizim-bot/internal/observability"
)

// fakeSource serves canned results and counts calls per adapter
type fakeSource struct {
	istanbulDetails []entities.ReservoirReading
	istanbulGeneral entities.GeneralOccupancy
	ibbGeneral      entities.GeneralOccupancy
	ankaraGeneral   entities.GeneralOccupancy
	izmirRendered   []entities.ReservoirReading
	izmirAPI        []entities.ReservoirReading
	bursa           []entities.ReservoirReading

	// optional: signal when the İstanbul detail fetch starts, then hold it until released
	detailStarted chan struct{}
	detailRelease chan struct{}

	calls map[string]int
}

func (f *fakeSource) count(name string) {
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[name]++
}

func general(g entities.GeneralOccupancy) (entities.GeneralOccupancy, bool) {
	return g, !g.IsZero()
}

func (f *fakeSource) FetchIstanbulDetails(context.Context) []entities.ReservoirReading {
	f.count("iski-list")
	if f.detailStarted != nil {
		close(f.detailStarted)
		<-f.detailRelease
	}
	return f.istanbulDetails
}

func (f *fakeSource) FetchIstanbulGeneralRate(context.Context) (entities.GeneralOccupancy, bool) {
	f.count("iski-value")
	return general(f.istanbulGeneral)
}

func (f *fakeSource) FetchIBBGeneralRate(context.Context) (entities.GeneralOccupancy, bool) {
	f.count("ibb")
	return general(f.ibbGeneral)
}

func (f *fakeSource) FetchAnkaraGeneralRate(context.Context) (entities.GeneralOccupancy, bool) {
	f.count("aski")
	return general(f.ankaraGeneral)
}

func (f *fakeSource) FetchIzmirData(context.Context) []entities.ReservoirReading {
	f.count("izsu")
	return f.izmirRendered
}

func (f *fakeSource) FetchIzmirAPIData(context.Context) []entities.ReservoirReading {
	f.count("izmir-api")
	return f.izmirAPI
}

func (f *fakeSource) FetchBursaData(context.Context) []entities.ReservoirReading {
	f.count("bursa")
	return f.bursa
}

func (f *fakeSource) networkCalls() int {
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// fakeRepo keeps snapshots in memory
type fakeRepo struct {
	readings map[entities.City][]entities.ReservoirReading
	generals map[entities.City]entities.GeneralOccupancy
	saved    []entities.City
	saveErr  error
	last     time.Time
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		readings: make(map[entities.City][]entities.ReservoirReading),
		generals: make(map[entities.City]entities.GeneralOccupancy),
	}
}

func (r *fakeRepo) SaveSnapshot(city entities.City, readings []entities.ReservoirReading, general entities.GeneralOccupancy) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.readings[city] = readings
	r.generals[city] = general
	r.saved = append(r.saved, city)
	r.last = time.Now()
	return nil
}

func (r *fakeRepo) GetReadings(city entities.City) ([]entities.ReservoirReading, error) {
	return r.readings[city], nil
}

func (r *fakeRepo) GetGeneral(city entities.City) (entities.GeneralOccupancy, error) {
	return r.generals[city], nil
}

func (r *fakeRepo) GetLastUpdateTime() (time.Time, error) { return r.last, nil }
func (r *fakeRepo) Close() error { return nil }

// fakeAgent returns a fixed interpretation
type fakeAgent struct {
	resp *openai.AgentResponse
	err  error
	got  []string
}

func (a *fakeAgent) InterpretUserQuery(_ context.Context, _ string, cities []string) (*openai.AgentResponse, error) {
	a.got = cities
	return a.resp, a.err
}

func readings(city entities.City, pairs ...any) []entities.ReservoirReading {
	var out []entities.ReservoirReading
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, entities.ReservoirReading{Name: pairs[i].(string), OccupancyRate: pairs[i+1].(float64), City: city})
	}
	return out
}

func newTestUseCase(src *fakeSource, opts Options) (*ReservoirUseCase, *observability.Metrics) {
	m := observability.NewMetricsForTesting()
	return NewReservoirUseCase(src, nil, nil, m, opts), m
}

func TestGeneralIsMeanOfJSONReadings(t *testing.T) {
	src := &fakeSource{bursa: readings(entities.Bursa, "A", 61.2, "B", 70.0)}
	uc, _ := newTestUseCase(src, Options{})
	ctx := context.Background()

	rate, label := uc.GetGeneralOccupancyRate(ctx, entities.Bursa)
	assert.InDelta(t, 65.6, rate, 1e-9)
	assert.Equal(t, "Canlı Veri (Bursa)", label)

	detail := uc.FetchReservoirData(ctx, entities.Bursa)
	require.Len(t, detail, 2)
	for _, r := range detail {
		assert.Equal(t, entities.Bursa, r.City)
	}
	assert.Equal(t, 1, src.calls["bursa"], "detail fetched for the general rate is reused")
}

func TestGeneliRecordUsedVerbatim(t *testing.T) {
	src := &fakeSource{bursa: readings(entities.Bursa, "Doğancı", 40.0, "Bursa Geneli", 52.3, "Nilüfer", 90.0)}
	uc, _ := newTestUseCase(src, Options{})

	g := uc.GetGeneralOccupancy(context.Background(), entities.Bursa)
	assert.Equal(t, 52.3, g.Rate)
	assert.Equal(t, "BUSKİ", g.SourceLabel)
}

func TestGeneralReusesCachedDetail(t *testing.T) {
	src := &fakeSource{
		istanbulDetails: readings(entities.Istanbul, "Ömerli", 73.55, "Terkos", 40.45),
		istanbulGeneral: entities.GeneralOccupancy{Rate: 48.7, SourceLabel: "İSKİ", AsOfLabel: "Canlı Veri (14.03.2025)"},
	}
	uc, m := newTestUseCase(src, Options{})
	ctx := context.Background()

	require.Len(t, uc.FetchReservoirData(ctx, entities.Istanbul), 2)
	before := src.networkCalls()

	g := uc.GetGeneralOccupancy(ctx, entities.Istanbul)

	assert.Equal(t, before, src.networkCalls(), "no second round trip")
	assert.InDelta(t, 57.0, g.Rate, 1e-9)
	assert.Equal(t, "Canlı Veri (İstanbul)", g.AsOfLabel)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DetailCache.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DetailCache.WithLabelValues("miss")))
}

func TestIstanbulGeneralFallsBackToOpenData(t *testing.T) {
	src := &fakeSource{ibbGeneral: entities.GeneralOccupancy{Rate: 52.4, SourceLabel: "İBB Açık Veri", AsOfLabel: "Açık Veri (2025-03-13)"}}
	uc, _ := newTestUseCase(src, Options{OpenDataFallback: true})

	rate, label := uc.GetGeneralOccupancyRate(context.Background(), entities.Istanbul)

	assert.Equal(t, 52.4, rate)
	assert.Equal(t, "Açık Veri (2025-03-13)", label)
	assert.Equal(t, 1, src.calls["iski-value"])
	assert.Equal(t, 1, src.calls["ibb"])
	assert.Zero(t, src.calls["iski-list"], "general sources are used directly without cached detail")
}

func TestIstanbulGeneralWithoutOpenData(t *testing.T) {
	src := &fakeSource{ibbGeneral: entities.GeneralOccupancy{Rate: 52.4, SourceLabel: "İBB Açık Veri", AsOfLabel: "Açık Veri (2025-03-13)"}}
	uc, _ := newTestUseCase(src, Options{})

	rate, label := uc.GetGeneralOccupancyRate(context.Background(), entities.Istanbul)

	assert.Zero(t, rate)
	assert.Empty(t, label)
	assert.Equal(t, 1, src.calls["iski-value"])
	assert.Zero(t, src.calls["ibb"])
}

func TestGeneralWaitsForDetailInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	src := &fakeSource{
		istanbulDetails: readings(entities.Istanbul, "Ömerli", 73.55, "Terkos", 40.45),
		istanbulGeneral: entities.GeneralOccupancy{Rate: 48.7, SourceLabel: "İSKİ", AsOfLabel: "Canlı Veri (14.03.2025)"},
		detailStarted:   started,
		detailRelease:   release,
	}
	uc, _ := newTestUseCase(src, Options{})
	ctx := context.Background()

	detailDone := make(chan []entities.ReservoirReading, 1)
	go func() { detailDone <- uc.FetchReservoirData(ctx, entities.Istanbul) }()
	<-started

	generalDone := make(chan entities.GeneralOccupancy, 1)
	go func() { generalDone <- uc.GetGeneralOccupancy(ctx, entities.Istanbul) }()
	// let the general request queue behind the detail fetch
	time.Sleep(50 * time.Millisecond)
	close(release)

	require.Len(t, <-detailDone, 2)
	g := <-generalDone
	assert.InDelta(t, 57.0, g.Rate, 1e-9)
	assert.Equal(t, "Canlı Veri (İstanbul)", g.AsOfLabel)
	assert.Zero(t, src.calls["iski-value"], "no render once detail is cached")
	assert.Equal(t, 1, src.calls["iski-list"])
}

func TestAnkaraHasNoDetail(t *testing.T) {
	src := &fakeSource{ankaraGeneral: entities.GeneralOccupancy{Rate: 31.5, SourceLabel: "ASKİ", AsOfLabel: "Canlı Veri (14.03.2025)"}}
	uc, _ := newTestUseCase(src, Options{})
	ctx := context.Background()

	assert.Empty(t, uc.FetchReservoirData(ctx, entities.Ankara))
	assert.Zero(t, src.networkCalls())

	rate, _ := uc.GetGeneralOccupancyRate(ctx, entities.Ankara)
	assert.Equal(t, 31.5, rate)
}

func TestIzmirFallsBackToOpenData(t *testing.T) {
	src := &fakeSource{izmirAPI: readings(entities.Izmir, "TAHTALI BARAJI", 41.5, "BALÇOVA BARAJI", 12.5)}
	uc, _ := newTestUseCase(src, Options{})

	detail := uc.FetchReservoirData(context.Background(), entities.Izmir)

	require.Len(t, detail, 2)
	assert.Equal(t, 1, src.calls["izsu"])
	assert.Equal(t, 1, src.calls["izmir-api"])
}

func TestNeutralValuesWhenSourcesFail(t *testing.T) {
	src := &fakeSource{}
	uc, _ := newTestUseCase(src, Options{})
	ctx := context.Background()

	for _, city := range entities.Cities {
		assert.Empty(t, uc.FetchReservoirData(ctx, city), city)
		rate, label := uc.GetGeneralOccupancyRate(ctx, city)
		assert.Zero(t, rate, city)
		assert.Empty(t, label, city)
	}
}

func TestEmptyDetailIsNotCached(t *testing.T) {
	src := &fakeSource{}
	uc, _ := newTestUseCase(src, Options{})
	ctx := context.Background()

	uc.FetchReservoirData(ctx, entities.Bursa)
	src.bursa = readings(entities.Bursa, "Doğancı", 61.2)
	assert.Len(t, uc.FetchReservoirData(ctx, entities.Bursa), 1)
	assert.Equal(t, 2, src.calls["bursa"])
}

func TestDetailCacheExpires(t *testing.T) {
	clock := clockwork.NewFakeClock()
	src := &fakeSource{bursa: readings(entities.Bursa, "Doğancı", 61.2)}
	uc, _ := newTestUseCase(src, Options{DetailTTL: 10 * time.Minute, Clock: clock})
	ctx := context.Background()

	uc.FetchReservoirData(ctx, entities.Bursa)
	clock.Advance(9 * time.Minute)
	uc.FetchReservoirData(ctx, entities.Bursa)
	assert.Equal(t, 1, src.calls["bursa"])

	clock.Advance(2 * time.Minute)
	uc.FetchReservoirData(ctx, entities.Bursa)
	assert.Equal(t, 2, src.calls["bursa"])
}

func TestDefaultCity(t *testing.T) {
	src := &fakeSource{bursa: readings(entities.Bursa, "Doğancı", 61.2)}
	uc, _ := newTestUseCase(src, Options{DefaultCity: entities.Bursa})

	assert.Equal(t, entities.Bursa, uc.DefaultCity())
	assert.Len(t, uc.FetchReservoirData(context.Background(), ""), 1)

	other, _ := newTestUseCase(&fakeSource{}, Options{})
	assert.Equal(t, entities.Istanbul, other.DefaultCity())
}

func TestUnknownCity(t *testing.T) {
	src := &fakeSource{}
	uc, _ := newTestUseCase(src, Options{})
	ctx := context.Background()

	assert.Empty(t, uc.FetchReservoirData(ctx, "Trabzon"))
	assert.True(t, uc.GetGeneralOccupancy(ctx, "Trabzon").IsZero())
	assert.Error(t, uc.RefreshCity(ctx, "Trabzon"))
	assert.Zero(t, src.networkCalls())
}

func TestCanceledContextSkipsSources(t *testing.T) {
	src := &fakeSource{bursa: readings(entities.Bursa, "Doğancı", 61.2)}
	uc, _ := newTestUseCase(src, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Empty(t, uc.FetchReservoirData(ctx, entities.Bursa))
	assert.Zero(t, src.networkCalls())
}

func TestRefreshAll(t *testing.T) {
	src := &fakeSource{
		istanbulDetails: readings(entities.Istanbul, "Ömerli", 73.55),
		bursa:           readings(entities.Bursa, "A", 61.2, "B", 70.0),
		ankaraGeneral:   entities.GeneralOccupancy{Rate: 31.5, SourceLabel: "ASKİ", AsOfLabel: "Canlı Veri (14.03.2025)"},
	}
	repo := newFakeRepo()
	uc := NewReservoirUseCase(src, repo, nil, nil, Options{})

	require.NoError(t, uc.RefreshAll(context.Background()))

	assert.ElementsMatch(t, []entities.City{entities.Istanbul, entities.Ankara, entities.Bursa}, repo.saved, "İzmir had no data and keeps its old snapshot")
	assert.InDelta(t, 65.6, repo.generals[entities.Bursa].Rate, 1e-9)
	assert.Empty(t, repo.readings[entities.Ankara])
	assert.Equal(t, 31.5, repo.generals[entities.Ankara].Rate)

	last, err := uc.GetLastUpdateTime()
	require.NoError(t, err)
	assert.False(t, last.IsZero())
}

func TestRefreshBypassesCache(t *testing.T) {
	src := &fakeSource{bursa: readings(entities.Bursa, "Doğancı", 61.2)}
	uc := NewReservoirUseCase(src, newFakeRepo(), nil, nil, Options{})
	ctx := context.Background()

	uc.FetchReservoirData(ctx, entities.Bursa)
	require.NoError(t, uc.RefreshCity(ctx, entities.Bursa))
	assert.Equal(t, 2, src.calls["bursa"])
}

func TestRefreshAllReportsSaveErrors(t *testing.T) {
	src := &fakeSource{bursa: readings(entities.Bursa, "Doğancı", 61.2)}
	repo := newFakeRepo()
	repo.saveErr = errors.New("disk full")
	uc := NewReservoirUseCase(src, repo, nil, nil, Options{})

	err := uc.RefreshAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, repo.saveErr)
}

func TestGetCityReportFallsBackToSnapshot(t *testing.T) {
	repo := newFakeRepo()
	repo.readings[entities.Izmir] = readings(entities.Izmir, "Tahtalı Barajı", 41.5)
	repo.last = time.Date(2025, time.March, 14, 9, 0, 0, 0, time.Local)
	uc := NewReservoirUseCase(&fakeSource{}, repo, nil, nil, Options{})

	report := uc.GetCityReport(context.Background(), entities.Izmir)

	assert.Contains(t, report, "Tahtalı Barajı: %41.50")
}

func TestFormatReservoirInfo(t *testing.T) {
	uc, _ := newTestUseCase(&fakeSource{}, Options{})

	text := uc.FormatReservoirInfo(entities.Bursa,
		readings(entities.Bursa, "Doğancı", 61.2, "Bursa Geneli", 65.6),
		entities.GeneralOccupancy{Rate: 65.6, SourceLabel: "BUSKİ", AsOfLabel: "Canlı Veri (Bursa)"})

	assert.Contains(t, text, "Bursa Geneli: %65.60")
	assert.Contains(t, text, "Kaynak: BUSKİ")
	assert.Contains(t, text, "Doğancı: %61.20")
	assert.NotContains(t, text, "📍 Bursa Geneli")

	assert.Equal(t, "Ankara için şu an baraj verisi yok.", uc.FormatReservoirInfo(entities.Ankara, nil, entities.GeneralOccupancy{}))
}

func TestHandleNaturalLanguageQuery(t *testing.T) {
	src := &fakeSource{bursa: readings(entities.Bursa, "Doğancı", 61.2)}
	ctx := context.Background()

	t.Run("city resolved", func(t *testing.T) {
		agent := &fakeAgent{resp: &openai.AgentResponse{CommandName: openai.CommandGetReservoirData, City: "bursa", UserMessage: "Bursa'ya bakıyorum."}}
		uc := NewReservoirUseCase(src, nil, agent, nil, Options{})

		reply, err := uc.HandleNaturalLanguageQuery(ctx, "bursada barajlar nasıl")
		require.NoError(t, err)
		assert.Contains(t, reply, "Bursa'ya bakıyorum.")
		assert.Contains(t, reply, "Doğancı: %61.20")
		assert.Equal(t, []string{"İstanbul", "Ankara", "İzmir", "Bursa"}, agent.got)
	})

	t.Run("unsupported city", func(t *testing.T) {
		agent := &fakeAgent{resp: &openai.AgentResponse{CommandName: openai.CommandGetReservoirData, City: "Trabzon"}}
		uc := NewReservoirUseCase(src, nil, agent, nil, Options{})

		reply, err := uc.HandleNaturalLanguageQuery(ctx, "trabzon?")
		require.NoError(t, err)
		assert.Contains(t, reply, "/cities")
	})

	t.Run("general query", func(t *testing.T) {
		agent := &fakeAgent{resp: &openai.AgentResponse{CommandName: openai.CommandGeneralQuery, UserMessage: "Merhaba!"}}
		uc := NewReservoirUseCase(src, nil, agent, nil, Options{})

		reply, err := uc.HandleNaturalLanguageQuery(ctx, "selam")
		require.NoError(t, err)
		assert.Equal(t, "Merhaba!", reply)
	})

	t.Run("agent error", func(t *testing.T) {
		uc := NewReservoirUseCase(src, nil, &fakeAgent{err: errors.New("boom")}, nil, Options{})

		reply, err := uc.HandleNaturalLanguageQuery(ctx, "selam")
		require.NoError(t, err)
		assert.Contains(t, reply, "/help")
	})
}
