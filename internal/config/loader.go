package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // zone database for search.timezone on hosts without one

	"github.com/spf13/viper"

	"github.com/kiyo123456/Tatemoku-management/internal/scheduler"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "TATEMOKU"

// Config captures file and environment driven configuration values for the service.
type Config struct {
	HTTPPort        int
	ShutdownTimeout time.Duration
	SQLitePath      string
	JWTSecret       string
	LogLevel        string
	CORSOrigins     []string

	Calendar CalendarConfig
	Redis    RedisConfig
	NATS     NATSConfig
	Search   SearchConfig
}

// CalendarConfig configures the Google freeBusy adapter.
type CalendarConfig struct {
	BaseURL      string
	Timeout      time.Duration
	RequireToken bool
}

// RedisConfig configures the freeBusy cache. An empty Addr disables caching.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

// NATSConfig configures change publishing. An empty URL disables publishing.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

// SearchConfig holds the slot search policy knobs.
type SearchConfig struct {
	Location         *time.Location
	BusinessStart    scheduler.ClockTime
	BusinessEnd      scheduler.ClockTime
	ExcludedWeekdays []time.Weekday
	MinParticipants  int
	TopN             int
}

// Policy converts the search settings into a scheduler policy.
func (c Config) Policy() scheduler.Policy {
	policy := scheduler.DefaultPolicy()
	policy.Location = c.Search.Location
	policy.BusinessStart = c.Search.BusinessStart
	policy.BusinessEnd = c.Search.BusinessEnd
	policy.ExcludedWeekdays = c.Search.ExcludedWeekdays
	policy.MinParticipants = c.Search.MinParticipants
	policy.ProviderTimeout = c.Calendar.Timeout
	return policy
}

var defaults = map[string]any{
	"http.port":                8080,
	"http.shutdown_timeout":    "15s",
	"sqlite.path":              "tatemoku.db",
	"jwt.secret":               "",
	"log.level":                "info",
	"cors.origins":             "",
	"calendar.base_url":        "https://www.googleapis.com",
	"calendar.timeout":         "10s",
	"calendar.require_token":   true,
	"redis.addr":               "",
	"redis.password":           "",
	"redis.db":                 0,
	"cache.ttl":                "1m",
	"nats.url":                 "",
	"nats.subject_prefix":      "tatemoku.changes",
	"search.timezone":          "Asia/Tokyo",
	"search.business_start":    "09:00",
	"search.business_end":      "18:00",
	"search.excluded_weekdays": "Sat,Sun",
	"search.min_participants":  2,
	"search.top_n":             5,
}

// Load reads configuration from an optional file at path and the TATEMOKU_* environment.
// Environment variables take precedence over the file.
//
// Missing and invalid values are reported together, using the environment variable names.
func Load(path string) (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("設定ファイルを読み込めません: %s: %w", path, err)
		}
	}

	l := loader{v: v}
	cfg := Config{
		HTTPPort:        l.positiveInt("http.port"),
		ShutdownTimeout: l.duration("http.shutdown_timeout"),
		SQLitePath:      l.required("sqlite.path"),
		JWTSecret:       l.required("jwt.secret"),
		LogLevel:        strings.ToLower(l.str("log.level")),
		CORSOrigins:     l.list("cors.origins"),
		Calendar: CalendarConfig{
			BaseURL:      l.required("calendar.base_url"),
			Timeout:      l.duration("calendar.timeout"),
			RequireToken: v.GetBool("calendar.require_token"),
		},
		Redis: RedisConfig{
			Addr:     l.str("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       l.nonNegativeInt("redis.db"),
			CacheTTL: l.duration("cache.ttl"),
		},
		NATS: NATSConfig{
			URL:           l.str("nats.url"),
			SubjectPrefix: l.str("nats.subject_prefix"),
		},
		Search: SearchConfig{
			Location:         l.location("search.timezone"),
			BusinessStart:    l.clock("search.business_start"),
			BusinessEnd:      l.clock("search.business_end"),
			ExcludedWeekdays: l.weekdays("search.excluded_weekdays"),
			MinParticipants:  l.positiveInt("search.min_participants"),
			TopN:             l.positiveInt("search.top_n"),
		},
	}
	if cfg.Search.BusinessStart >= cfg.Search.BusinessEnd && !l.isInvalid("search.business_start", "search.business_end") {
		l.invalid = append(l.invalid, envName("search.business_end"))
	}

	if len(l.missing) > 0 {
		return Config{}, fmt.Errorf("必須の設定値がありません: %s", strings.Join(l.missing, ", "))
	}
	if len(l.invalid) > 0 {
		return Config{}, fmt.Errorf("設定値が不正です: %s", strings.Join(l.invalid, ", "))
	}
	return cfg, nil
}

// envName renders a config key as its environment variable.
func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

type loader struct {
	v       *viper.Viper
	missing []string
	invalid []string
}

func (l *loader) str(key string) string {
	return strings.TrimSpace(l.v.GetString(key))
}

func (l *loader) fail(key string) {
	l.invalid = append(l.invalid, envName(key))
}

func (l *loader) isInvalid(keys ...string) bool {
	for _, key := range keys {
		for _, name := range l.invalid {
			if name == envName(key) {
				return true
			}
		}
	}
	return false
}

func (l *loader) required(key string) string {
	value := l.str(key)
	if value == "" {
		l.missing = append(l.missing, envName(key))
	}
	return value
}

func (l *loader) integer(key string) (int, bool) {
	n, err := strconv.Atoi(l.str(key))
	if err != nil {
		l.fail(key)
		return 0, false
	}
	return n, true
}

func (l *loader) positiveInt(key string) int {
	n, ok := l.integer(key)
	if ok && n <= 0 {
		l.fail(key)
	}
	return n
}

func (l *loader) nonNegativeInt(key string) int {
	n, ok := l.integer(key)
	if ok && n < 0 {
		l.fail(key)
	}
	return n
}

func (l *loader) duration(key string) time.Duration {
	d, err := time.ParseDuration(l.str(key))
	if err != nil || d <= 0 {
		l.fail(key)
		return 0
	}
	return d
}

func (l *loader) location(key string) *time.Location {
	loc, err := time.LoadLocation(l.str(key))
	if err != nil {
		l.fail(key)
		return nil
	}
	return loc
}

func (l *loader) clock(key string) scheduler.ClockTime {
	c, err := scheduler.ParseClockTime(l.str(key))
	if err != nil {
		l.fail(key)
		return 0
	}
	return c
}

// list accepts a comma separated string or a YAML sequence.
func (l *loader) list(key string) []string {
	var items []string
	switch raw := l.v.Get(key).(type) {
	case string:
		items = strings.Split(raw, ",")
	case []string:
		items = raw
	case []any:
		for _, item := range raw {
			items = append(items, fmt.Sprint(item))
		}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

var errUnknownWeekday = errors.New("unknown weekday")

func parseWeekday(name string) (time.Weekday, error) {
	lower := strings.ToLower(name)
	for day := time.Sunday; day <= time.Saturday; day++ {
		full := strings.ToLower(day.String())
		if lower == full || lower == full[:3] {
			return day, nil
		}
	}
	return 0, errUnknownWeekday
}

// weekdays returns a non-nil slice so an empty setting excludes no days.
func (l *loader) weekdays(key string) []time.Weekday {
	days := []time.Weekday{}
	for _, name := range l.list(key) {
		day, err := parseWeekday(name)
		if err != nil {
			l.fail(key)
			return nil
		}
		days = append(days, day)
	}
	return days
}
