package config

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/david/fare-finder/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed config/pipeline.yaml
var pipelineYAML embed.FS

var ErrInvalidConfig = errors.New("invalid pipeline config")

type Config struct {
	Quota      QuotaConfig                    `yaml:"quota"`
	Deals      DealConfig                     `yaml:"deals"`
	Tiers      []TierConfig                   `yaml:"tiers"`
	Regions    map[models.Region]RegionConfig `yaml:"regions"`
	ShortStays []ShortStayPattern             `yaml:"short_stays"`
	Validation ValidationConfig               `yaml:"validation"`
	Scheduler  SchedulerConfig                `yaml:"scheduler"`
	Maintain   MaintenanceConfig              `yaml:"maintenance"`
	Providers  ProvidersConfig                `yaml:"providers"`
	Seasonal   []WindowConfig                 `yaml:"seasonal"`
	Routes     []RouteSeed                    `yaml:"routes"`
}

type QuotaConfig struct {
	MonthlyLimit int    `yaml:"monthly_limit"`
	DailyLimit   int    `yaml:"daily_limit"` // 0 derives monthly_limit / 30
	Timezone     string `yaml:"timezone"`
}

type DealConfig struct {
	MinDiscountPct float64                           `yaml:"min_discount_pct"`
	TTLHours       map[models.Classification]float64 `yaml:"ttl_hours"`
}

type TierConfig struct {
	Tier                 int     `yaml:"tier"`
	Weight               float64 `yaml:"weight"`
	DefaultIntervalHours float64 `yaml:"default_interval_hours"`
}

type RegionConfig struct {
	MinStayNights  int `yaml:"min_stay_nights"`
	MaxStayNights  int `yaml:"max_stay_nights"`
	MinAdvanceDays int `yaml:"min_advance_days"`
	MaxAdvanceDays int `yaml:"max_advance_days"`
}

// ShortStayPattern pins a short stay to the weekdays of its first and last
// night: Mon through Wed is three nights, returning on Thursday.
type ShortStayPattern struct {
	Nights     int     `yaml:"nights"`
	Departure  Weekday `yaml:"departure"`
	Through    Weekday `yaml:"through"`
	Permission string  `yaml:"permission"`
}

// Matches reports whether the travel dates follow the pattern.
func (p ShortStayPattern) Matches(departure, ret time.Time) bool {
	lastNight := ret.AddDate(0, 0, -1)
	return departure.Weekday() == p.Departure.Time() && lastNight.Weekday() == p.Through.Time()
}

type ValidationConfig struct {
	PriceTolerance float64 `yaml:"price_tolerance"`
}

type SchedulerConfig struct {
	Workers              int `yaml:"workers"`
	CycleIntervalMinutes int `yaml:"cycle_interval_minutes"`
	SweepIntervalMinutes int `yaml:"sweep_interval_minutes"`
	HistoryDays          int `yaml:"history_days"`
}

// MaintenanceConfig drives deal revalidation and tier adjustment.
type MaintenanceConfig struct {
	IntervalMinutes   int     `yaml:"interval_minutes"`
	RevalidateLimit   int     `yaml:"revalidate_limit"`
	ConfidenceDelta   float64 `yaml:"confidence_delta"`
	PerformanceDays   int     `yaml:"performance_days"`
	PromoteAboveDeals int     `yaml:"promote_above_deals"`
	DemoteBelowDeals  int     `yaml:"demote_below_deals"`
}

type ProvidersConfig struct {
	Primary   ProviderConfig `yaml:"primary"`
	Secondary ProviderConfig `yaml:"secondary"`
}

type ProviderConfig struct {
	Name           string  `yaml:"name"`
	BaseURL        string  `yaml:"base_url"`
	APIKey         string  `yaml:"api_key"`
	Currency       string  `yaml:"currency,omitempty"`
	TimeoutSeconds int     `yaml:"timeout_seconds,omitempty"`
	MaxRetries     int     `yaml:"max_retries,omitempty"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps,omitempty"`
}

// WindowConfig is one seasonal window: a month list, the whole year, or a
// fixed day range that may wrap New Year.
type WindowConfig struct {
	Name    string        `yaml:"name"`
	Months  []int         `yaml:"months,omitempty"`
	AllYear bool          `yaml:"all_year,omitempty"`
	Start   MonthDay      `yaml:"start,omitempty"`
	End     MonthDay      `yaml:"end,omitempty"`
	Routes  []WindowRoute `yaml:"routes"`
}

func (w WindowConfig) IsRange() bool {
	return !w.Start.IsZero()
}

type WindowRoute struct {
	Origin      string        `yaml:"origin"`
	Destination string        `yaml:"destination"`
	Region      models.Region `yaml:"region,omitempty"`
}

type RouteSeed struct {
	Origin      string        `yaml:"origin"`
	Destination string        `yaml:"destination"`
	Tier        int           `yaml:"tier"`
	Region      models.Region `yaml:"region"`
	AllowMonWed bool          `yaml:"allow_mon_wed,omitempty"`
	AllowTueFri bool          `yaml:"allow_tue_fri,omitempty"`
	AllowWedSun bool          `yaml:"allow_wed_sun,omitempty"`
}

// MonthDay is a "MM-DD" calendar boundary.
type MonthDay struct {
	Month time.Month
	Day   int
}

func (m MonthDay) IsZero() bool { return m.Month == 0 }

func (m MonthDay) String() string {
	return fmt.Sprintf("%02d-%02d", int(m.Month), m.Day)
}

func (m *MonthDay) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseMonthDay(node.Value)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func ParseMonthDay(raw string) (MonthDay, error) {
	parts := strings.Split(strings.TrimSpace(raw), "-")
	if len(parts) != 2 {
		return MonthDay{}, fmt.Errorf("month-day %q: expected MM-DD", raw)
	}
	month, err := strconv.Atoi(parts[0])
	if err != nil {
		return MonthDay{}, fmt.Errorf("month-day %q: %w", raw, err)
	}
	day, err := strconv.Atoi(parts[1])
	if err != nil {
		return MonthDay{}, fmt.Errorf("month-day %q: %w", raw, err)
	}
	if month < 1 || month > 12 || day < 1 || day > daysIn(time.Month(month)) {
		return MonthDay{}, fmt.Errorf("month-day %q out of range", raw)
	}
	return MonthDay{Month: time.Month(month), Day: day}, nil
}

// daysIn allows Feb 29 so leap-day boundaries can be configured.
func daysIn(m time.Month) int {
	return time.Date(2024, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Weekday wraps time.Weekday with lower-case English YAML names.
type Weekday time.Weekday

func (w *Weekday) UnmarshalYAML(node *yaml.Node) error {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(node.Value, d.String()) {
			*w = Weekday(d)
			return nil
		}
	}
	return fmt.Errorf("unknown weekday %q", node.Value)
}

func (w Weekday) Time() time.Weekday { return time.Weekday(w) }

// Load reads the pipeline config from path, or the embedded default when
// path is empty. ${VAR} references are expanded from the environment.
func Load(path string) (*Config, error) {
	var (
		data []byte
		err  error
	)
	if path != "" {
		data, err = os.ReadFile(path)
	} else {
		data, err = pipelineYAML.ReadFile("config/pipeline.yaml")
	}
	if err != nil {
		return nil, fmt.Errorf("read pipeline config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Quota.DailyLimit == 0 && c.Quota.MonthlyLimit > 0 {
		c.Quota.DailyLimit = c.Quota.MonthlyLimit / 30
	}
	if c.Quota.Timezone == "" {
		c.Quota.Timezone = "UTC"
	}
	if c.Validation.PriceTolerance == 0 {
		c.Validation.PriceTolerance = 0.2
	}
	if c.Scheduler.Workers == 0 {
		c.Scheduler.Workers = 5
	}
	if c.Scheduler.CycleIntervalMinutes == 0 {
		c.Scheduler.CycleIntervalMinutes = 15
	}
	if c.Scheduler.SweepIntervalMinutes == 0 {
		c.Scheduler.SweepIntervalMinutes = 60
	}
	if c.Scheduler.HistoryDays == 0 {
		c.Scheduler.HistoryDays = 90
	}
	if c.Maintain.IntervalMinutes == 0 {
		c.Maintain.IntervalMinutes = 24 * 60
	}
	if c.Maintain.RevalidateLimit == 0 {
		c.Maintain.RevalidateLimit = 10
	}
	if c.Maintain.ConfidenceDelta == 0 {
		c.Maintain.ConfidenceDelta = 0.2
	}
	if c.Maintain.PerformanceDays == 0 {
		c.Maintain.PerformanceDays = 30
	}
	if c.Maintain.PromoteAboveDeals == 0 {
		c.Maintain.PromoteAboveDeals = 20
	}
	if c.Maintain.DemoteBelowDeals == 0 {
		c.Maintain.DemoteBelowDeals = 5
	}
	if c.Providers.Primary.BaseURL == "" {
		c.Providers.Primary.BaseURL = "https://app.goflightlabs.com"
	}
	if c.Providers.Secondary.BaseURL == "" {
		c.Providers.Secondary.BaseURL = "https://api.travelpayouts.com"
	}
	if c.Providers.Secondary.Currency == "" {
		c.Providers.Secondary.Currency = "EUR"
	}
}

// Validate checks every invariant the pipeline relies on.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Quota.MonthlyLimit <= 0 {
		add("quota.monthly_limit must be positive")
	}
	if c.Quota.DailyLimit <= 0 {
		add("quota.daily_limit must be positive")
	}
	if c.Quota.DailyLimit > c.Quota.MonthlyLimit {
		add("quota.daily_limit %d exceeds monthly_limit %d", c.Quota.DailyLimit, c.Quota.MonthlyLimit)
	}
	if _, err := time.LoadLocation(c.Quota.Timezone); err != nil {
		add("quota.timezone %q: %v", c.Quota.Timezone, err)
	}

	if c.Deals.MinDiscountPct <= 0 || c.Deals.MinDiscountPct >= 100 {
		add("deals.min_discount_pct must be in (0,100)")
	}
	for _, class := range []models.Classification{models.ClassErrorFare, models.ClassGreatDeal, models.ClassGoodDeal} {
		if c.Deals.TTLHours[class] <= 0 {
			add("deals.ttl_hours.%s must be positive", class)
		}
	}

	if c.Maintain.DemoteBelowDeals >= c.Maintain.PromoteAboveDeals {
		add("maintenance.demote_below_deals %d must be below promote_above_deals %d",
			c.Maintain.DemoteBelowDeals, c.Maintain.PromoteAboveDeals)
	}
	if c.Maintain.ConfidenceDelta <= 0 || c.Maintain.ConfidenceDelta >= 1 {
		add("maintenance.confidence_delta must be in (0,1)")
	}

	seenTiers := map[int]bool{}
	for _, t := range c.Tiers {
		if t.Tier < 1 || t.Tier > 3 {
			add("tier %d not in 1..3", t.Tier)
			continue
		}
		if seenTiers[t.Tier] {
			add("tier %d declared twice", t.Tier)
		}
		seenTiers[t.Tier] = true
		if t.Weight <= 0 || t.DefaultIntervalHours <= 0 {
			add("tier %d needs positive weight and default_interval_hours", t.Tier)
		}
	}
	if len(seenTiers) != 3 {
		add("tiers must declare exactly 1, 2 and 3")
	}

	for _, r := range []models.Region{models.RegionShortHaul, models.RegionPopular, models.RegionLongHaul} {
		rc, ok := c.Regions[r]
		if !ok {
			add("region %s missing", r)
			continue
		}
		if rc.MinStayNights <= 0 || rc.MinStayNights > rc.MaxStayNights {
			add("region %s stay bounds %d..%d invalid", r, rc.MinStayNights, rc.MaxStayNights)
		}
		if rc.MinAdvanceDays < 0 || rc.MinAdvanceDays > rc.MaxAdvanceDays {
			add("region %s advance bounds %d..%d invalid", r, rc.MinAdvanceDays, rc.MaxAdvanceDays)
		}
	}
	for r := range c.Regions {
		if !r.Valid() {
			add("unknown region %q", r)
		}
	}

	seenNights := map[int]bool{}
	for _, p := range c.ShortStays {
		if p.Nights < 3 || p.Nights > 5 {
			add("short stay pattern for %d nights not supported", p.Nights)
		}
		if seenNights[p.Nights] {
			add("short stay pattern for %d nights declared twice", p.Nights)
		}
		seenNights[p.Nights] = true
		if want := Weekday((int(p.Departure) + p.Nights - 1) % 7); p.Through != want {
			add("short stay pattern for %d nights from %s must run through %s", p.Nights, p.Departure.Time(), want.Time())
		}
		if !knownPermission(p.Permission) {
			add("short stay permission %q unknown", p.Permission)
		}
	}

	if c.Validation.PriceTolerance <= 0 || c.Validation.PriceTolerance >= 1 {
		add("validation.price_tolerance must be in (0,1)")
	}
	if c.Scheduler.Workers < 1 {
		add("scheduler.workers must be at least 1")
	}

	for _, w := range c.Seasonal {
		kinds := 0
		if len(w.Months) > 0 {
			kinds++
		}
		if w.AllYear {
			kinds++
		}
		if w.IsRange() {
			kinds++
			if w.End.IsZero() {
				add("seasonal window %s has start without end", w.Name)
			}
		}
		if kinds != 1 {
			add("seasonal window %s must set exactly one of months, all_year, start/end", w.Name)
		}
		for _, m := range w.Months {
			if m < 1 || m > 12 {
				add("seasonal window %s month %d out of range", w.Name, m)
			}
		}
		for _, r := range w.Routes {
			if r.Region != "" && !r.Region.Valid() {
				add("seasonal window %s route %s-%s unknown region %q", w.Name, r.Origin, r.Destination, r.Region)
			}
		}
	}

	for _, r := range c.Routes {
		if r.Tier < 1 || r.Tier > 3 {
			add("route %s-%s tier %d not in 1..3", r.Origin, r.Destination, r.Tier)
		}
		if !r.Region.Valid() {
			add("route %s-%s unknown region %q", r.Origin, r.Destination, r.Region)
		}
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func knownPermission(p string) bool {
	switch p {
	case PermissionMonWed, PermissionTueFri, PermissionWedSun:
		return true
	}
	return false
}

const (
	PermissionMonWed = "allow_mon_wed"
	PermissionTueFri = "allow_tue_fri"
	PermissionWedSun = "allow_wed_sun"
)

// Permits reports whether the route's flag for this pattern is set.
func (p ShortStayPattern) Permits(r models.Route) bool {
	switch p.Permission {
	case PermissionMonWed:
		return r.AllowMonWed
	case PermissionTueFri:
		return r.AllowTueFri
	case PermissionWedSun:
		return r.AllowWedSun
	}
	return false
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Quota.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) Tier(tier int) (TierConfig, bool) {
	for _, t := range c.Tiers {
		if t.Tier == tier {
			return t, true
		}
	}
	return TierConfig{}, false
}

// TierBounds returns the best and worst configured tier numbers.
func (c *Config) TierBounds() (best, worst int) {
	for i, t := range c.Tiers {
		if i == 0 || t.Tier < best {
			best = t.Tier
		}
		if i == 0 || t.Tier > worst {
			worst = t.Tier
		}
	}
	return best, worst
}

func (c *Config) TierWeights() map[int]float64 {
	out := make(map[int]float64, len(c.Tiers))
	for _, t := range c.Tiers {
		out[t.Tier] = t.Weight
	}
	return out
}

func (c *Config) DefaultInterval(tier int) float64 {
	if t, ok := c.Tier(tier); ok {
		return t.DefaultIntervalHours
	}
	return 6
}

func (c *Config) ShortStay(nights int) (ShortStayPattern, bool) {
	for _, p := range c.ShortStays {
		if p.Nights == nights {
			return p, true
		}
	}
	return ShortStayPattern{}, false
}

// NewRoute builds a route from a seed using the region's bounds and the
// tier's default scan interval.
func (c *Config) NewRoute(seed RouteSeed) models.Route {
	rc := c.Regions[seed.Region]
	return models.Route{
		Origin:            strings.ToUpper(seed.Origin),
		Destination:       strings.ToUpper(seed.Destination),
		Tier:              seed.Tier,
		Region:            seed.Region,
		MinStayNights:     rc.MinStayNights,
		MaxStayNights:     rc.MaxStayNights,
		MinAdvanceDays:    rc.MinAdvanceDays,
		MaxAdvanceDays:    rc.MaxAdvanceDays,
		AllowMonWed:       seed.AllowMonWed,
		AllowTueFri:       seed.AllowTueFri,
		AllowWedSun:       seed.AllowWedSun,
		Active:            true,
		ScanIntervalHours: c.DefaultInterval(seed.Tier),
	}
}
