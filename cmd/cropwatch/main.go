package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"

	"github.com/lox/cropwatch/internal/analysis"
	"github.com/lox/cropwatch/internal/api"
	"github.com/lox/cropwatch/internal/cropscore"
	"github.com/lox/cropwatch/internal/httputil"
	"github.com/lox/cropwatch/internal/ingest"
	"github.com/lox/cropwatch/internal/models"
	"github.com/lox/cropwatch/internal/store"
)

type CLI struct {
	EnvFile kongdotenv.ENVFileConfig `kong:"optional,name=env-file,default='.env',help='Path to .env file'"`

	DB       string        `help:"Path to SQLite database." default:"data/cropwatch.db" env:"CROPWATCH_DB"`
	CacheTTL time.Duration `help:"How long fetched payloads are reused." default:"1h" env:"CROPWATCH_CACHE_TTL"`
	Timezone string        `help:"Timezone for Open-Meteo daily boundaries and scheduling." default:"Asia/Kolkata" env:"CROPWATCH_TIMEZONE"`
	Timeout  time.Duration `help:"HTTP timeout for provider calls." default:"30s" env:"CROPWATCH_HTTP_TIMEOUT"`

	Serve    ServeCmd    `cmd:"" help:"Run the HTTP API and cache scheduler."`
	Analyze  AnalyzeCmd  `cmd:"" help:"Analyse one location and print the report."`
	Policies PoliciesCmd `cmd:"" help:"List scoring policies."`
	Prune    PruneCmd    `cmd:"" help:"Delete cached payloads older than a cutoff."`
}

// app holds the wiring shared by every command.
type app struct {
	db       *sql.DB
	store    *store.Store
	loc      *time.Location
	registry ingest.Registry
	fetcher  *ingest.CachedFetcher
	service  *analysis.Service
}

func (c *CLI) open() (*app, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.Printf("Warning: could not load %s timezone, using UTC: %v", c.Timezone, err)
		loc = time.UTC
	}

	db, err := store.Open(c.DB)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	client := httputil.NewClient(c.Timeout)
	registry := ingest.NewRegistry(
		ingest.NewOpenMeteo(client, loc.String()),
		ingest.NewNASAPower(client),
	)
	fetcher := ingest.NewCachedFetcher(st, c.CacheTTL)

	return &app{
		db:       db,
		store:    st,
		loc:      loc,
		registry: registry,
		fetcher:  fetcher,
		service:  analysis.NewService(registry, fetcher),
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// LocationFlags selects the analysed location and defaults.
type LocationFlags struct {
	Provider string  `help:"Weather provider (open-meteo, nasa-power)." default:"open-meteo" env:"CROPWATCH_PROVIDER"`
	Lat      float64 `help:"Latitude." default:"12.9716" env:"CROPWATCH_LAT"`
	Lon      float64 `help:"Longitude." default:"77.5946" env:"CROPWATCH_LON"`
	Name     string  `help:"Location name." default:"Bengaluru" env:"CROPWATCH_LOCATION"`
	Policy   string  `help:"Scoring policy or alias." default:"two-factor" env:"CROPWATCH_POLICY"`
}

func (f LocationFlags) location() models.Location {
	return models.Location{Name: f.Name, Latitude: f.Lat, Longitude: f.Lon}
}

type ServeCmd struct {
	LocationFlags `embed:""`

	Port       string        `help:"HTTP server port." default:"8080" env:"CROPWATCH_PORT"`
	NoSchedule bool          `help:"Disable cache warming and pruning (server only)."`
	Retention  time.Duration `help:"How long cached payloads are kept." default:"168h" env:"CROPWATCH_RETENTION"`
}

func (s *ServeCmd) Run(cli *CLI) error {
	a, err := cli.open()
	if err != nil {
		return err
	}
	defer a.Close()
	log.Println("database migrated")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !s.NoSchedule {
		scheduler := ingest.NewScheduler(a.store, a.fetcher, a.registry, []models.Location{s.location()}, a.loc)
		scheduler.SetRetention(s.Retention)
		if err := scheduler.Start(ctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
	} else {
		log.Println("scheduling disabled (--no-schedule)")
	}

	server := api.NewServer(a.store, a.service, s.Port, a.loc)
	server.SetDefaults(analysis.Request{
		Provider:  s.Provider,
		Latitude:  s.Lat,
		Longitude: s.Lon,
		Name:      s.Name,
		Policy:    s.Policy,
	})

	log.Printf("starting server on :%s", s.Port)
	return server.Run(ctx)
}

type AnalyzeCmd struct {
	LocationFlags `embed:""`

	Start   string `help:"First day (YYYY-MM-DD)."`
	End     string `help:"Last day (YYYY-MM-DD)."`
	Horizon int    `help:"Days to project the temperature trend." default:"30"`
	JSON    bool   `help:"Print the report as JSON." name:"json"`
}

func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}

func (c *AnalyzeCmd) Run(cli *CLI) error {
	start, err := parseDay(c.Start)
	if err != nil {
		return fmt.Errorf("--start: %w", err)
	}
	end, err := parseDay(c.End)
	if err != nil {
		return fmt.Errorf("--end: %w", err)
	}

	a, err := cli.open()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	report, err := a.service.Analyze(ctx, analysis.Request{
		Provider:  c.Provider,
		Latitude:  c.Lat,
		Longitude: c.Lon,
		Name:      c.Name,
		Start:     start,
		End:       end,
		Policy:    c.Policy,
		Horizon:   c.Horizon,
	})
	if err != nil {
		return err
	}

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printReport(report)
	return nil
}

func optional(v *float64, unit string) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%s", *v, unit)
}

func printReport(r *analysis.Report) {
	fmt.Printf("%s  %s via %s  policy %s\n", r.ID, r.Location, r.Provider, r.Policy)
	fmt.Printf("period %s .. %s (%d days)\n", r.ObservedStart, r.ObservedEnd, r.Summary.Days)
	fmt.Printf("avg temp %s  rainfall %s  humidity %s  solar %s\n",
		optional(r.Summary.AvgTemperature, "°C"), optional(r.Summary.TotalPrecipitation, "mm"),
		optional(r.Summary.AvgHumidity, "%"), optional(r.Summary.AvgSolarRadiation, " kWh/m²"))
	fmt.Printf("crop health score: %.1f\n", r.PeriodScore)
	if r.Impact != nil {
		fmt.Printf("impact: %s\n", r.Impact)
	}
	for _, q := range r.Quality {
		fmt.Printf("quality: %s %s\n", q.Date, strings.Join(q.Flags, ","))
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nDATE\tSCORE")
	for _, d := range r.Daily {
		fmt.Fprintf(tw, "%s\t%.1f\n", d.Date, d.Score)
	}
	tw.Flush()

	if len(r.Projection) == 0 {
		return
	}
	note := ""
	if r.Trend.Degenerate {
		note = " (flat: not enough points)"
	}
	fmt.Printf("\ntrend %+.3f°C/day over %d points%s\n", r.Trend.Slope, r.Trend.Points, note)
	tw = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tPREDICTED AVG TEMP")
	for _, p := range r.Projection {
		fmt.Fprintf(tw, "%s\t%.2f\n", p.Date, p.PredictedAvgTemperature)
	}
	tw.Flush()
}

type PoliciesCmd struct{}

func (p *PoliciesCmd) Run() error {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tREQUIRES\tDESCRIPTION")
	for _, s := range cropscore.Policies() {
		var req []string
		for _, p := range s.Required() {
			req = append(req, string(p))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Name(), strings.Join(req, ","), s.Description())
	}
	return tw.Flush()
}

type PruneCmd struct {
	OlderThan time.Duration `help:"Delete payloads fetched longer ago than this." default:"168h"`
}

func (p *PruneCmd) Run(cli *CLI) error {
	a, err := cli.open()
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.store.PrunePayloads(p.OlderThan)
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}
	log.Printf("pruned %d payloads older than %s", n, p.OlderThan)
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("cropwatch"),
		kong.Description("Crop health scoring and temperature trends from daily weather data."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}
