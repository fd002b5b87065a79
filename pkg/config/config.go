package config

import (
	"errors"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Cache     CacheConfig
	Scheduler SchedulerConfig
	Jobs      JobsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	// AutoMigrate applies the embedded schema migrations at startup.
	AutoMigrate  bool
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig holds the shared secret used to verify bearer tokens issued by the
// identity provider.
type JWTConfig struct {
	Secret string
	Issuer string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
	// SlowRequest is the latency above which requests are logged at warn.
	SlowRequest time.Duration
}

// CacheConfig governs the Redis-backed caches (stored timetables, proposals).
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// SchedulerConfig tunes the timetable engine.
type SchedulerConfig struct {
	PeriodsByType      map[string]int
	DefaultSchoolType  string
	MaxSteps           int
	TimeBudget         time.Duration
	ImprovementSteps   int
	Seed               int64
	Parallel           bool
	DifficultThreshold int
	Weights            WeightsConfig
	ProposalTTL        time.Duration
	Calendar           CalendarConfig
}

// CalendarConfig places periods on the clock for calendar exports.
type CalendarConfig struct {
	DayStart     time.Duration
	PeriodLength time.Duration
	Timezone     string
}

// WeightsConfig mirrors the engine's built-in soft objective weights.
type WeightsConfig struct {
	DifficultAdjacency float64
	SameDayRepeat      float64
	Balance            float64
	Workload           float64
}

// JobsConfig sizes the asynchronous generation queue.
type JobsConfig struct {
	Workers int
	Retries int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:       v.GetString("LOG_LEVEL"),
		Format:      v.GetString("LOG_FORMAT"),
		SlowRequest: parseDuration(v.GetString("LOG_SLOW_REQUEST"), 2*time.Second),
	}

	cfg.Cache = CacheConfig{
		Enabled: v.GetBool("ENABLE_CACHE"),
		TTL:     parseDuration(v.GetString("CACHE_TTL"), 10*time.Minute),
	}

	cfg.Scheduler = SchedulerConfig{
		PeriodsByType: map[string]int{
			"primary":   v.GetInt("SCHEDULER_PERIODS_PRIMARY"),
			"secondary": v.GetInt("SCHEDULER_PERIODS_SECONDARY"),
		},
		DefaultSchoolType:  strings.ToLower(v.GetString("SCHEDULER_DEFAULT_SCHOOL_TYPE")),
		MaxSteps:           v.GetInt("SCHEDULER_MAX_STEPS"),
		TimeBudget:         parseDuration(v.GetString("SCHEDULER_TIME_BUDGET"), 10*time.Second),
		ImprovementSteps:   v.GetInt("SCHEDULER_IMPROVEMENT_STEPS"),
		Seed:               v.GetInt64("SCHEDULER_SEED"),
		Parallel:           v.GetBool("SCHEDULER_PARALLEL"),
		DifficultThreshold: v.GetInt("SCHEDULER_DIFFICULTY_THRESHOLD"),
		Weights: WeightsConfig{
			DifficultAdjacency: parseFloat(v.GetString("SCHEDULER_WEIGHT_DIFFICULT_ADJACENCY"), 1),
			SameDayRepeat:      parseFloat(v.GetString("SCHEDULER_WEIGHT_SAME_DAY_REPEAT"), 1),
			Balance:            parseFloat(v.GetString("SCHEDULER_WEIGHT_BALANCE"), 0.5),
			Workload:           parseFloat(v.GetString("SCHEDULER_WEIGHT_WORKLOAD"), 0.25),
		},
		ProposalTTL: parseDuration(v.GetString("SCHEDULER_PROPOSAL_TTL"), 30*time.Minute),
		Calendar: CalendarConfig{
			DayStart:     parseClock(v.GetString("SCHEDULER_DAY_START"), 7*time.Hour),
			PeriodLength: parseDuration(v.GetString("SCHEDULER_PERIOD_LENGTH"), 45*time.Minute),
			Timezone:     v.GetString("SCHEDULER_TIMEZONE"),
		},
	}
	for schoolType, periods := range parsePeriods(v.GetString("SCHEDULER_PERIODS_EXTRA")) {
		cfg.Scheduler.PeriodsByType[schoolType] = periods
	}

	cfg.Jobs = JobsConfig{
		Workers: v.GetInt("JOBS_WORKERS"),
		Retries: v.GetInt("JOBS_RETRIES"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "sma_timetable")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", false)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOG_SLOW_REQUEST", "2s")

	v.SetDefault("ENABLE_CACHE", false)
	v.SetDefault("CACHE_TTL", "10m")

	v.SetDefault("SCHEDULER_PERIODS_PRIMARY", 6)
	v.SetDefault("SCHEDULER_PERIODS_SECONDARY", 8)
	v.SetDefault("SCHEDULER_PERIODS_EXTRA", "")
	v.SetDefault("SCHEDULER_DEFAULT_SCHOOL_TYPE", "secondary")
	v.SetDefault("SCHEDULER_MAX_STEPS", 200000)
	v.SetDefault("SCHEDULER_TIME_BUDGET", "10s")
	v.SetDefault("SCHEDULER_IMPROVEMENT_STEPS", 2000)
	v.SetDefault("SCHEDULER_SEED", 0)
	v.SetDefault("SCHEDULER_PARALLEL", false)
	v.SetDefault("SCHEDULER_DIFFICULTY_THRESHOLD", 7)
	v.SetDefault("SCHEDULER_PROPOSAL_TTL", "30m")
	v.SetDefault("SCHEDULER_DAY_START", "07:00")
	v.SetDefault("SCHEDULER_PERIOD_LENGTH", "45m")
	v.SetDefault("SCHEDULER_TIMEZONE", "UTC")

	v.SetDefault("JOBS_WORKERS", 2)
	v.SetDefault("JOBS_RETRIES", 1)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

// parseClock reads an HH:MM wall-clock time as an offset from midnight.
func parseClock(raw string, fallback time.Duration) time.Duration {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute
}

func parseFloat(raw string, fallback float64) float64 {
	if raw == "" {
		return fallback
	}

	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 {
		return fallback
	}

	return f
}

// parsePeriods reads "type=periods" pairs such as "vocational=9,kindergarten=4".
func parsePeriods(raw string) map[string]int {
	out := map[string]int{}
	for _, pair := range splitAndTrim(raw) {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n <= 0 {
			continue
		}
		out[strings.ToLower(strings.TrimSpace(name))] = n
	}
	return out
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
