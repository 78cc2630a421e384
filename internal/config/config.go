package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed categories.yaml
var categoriesYAML []byte

type Config struct {
	Database    DatabaseConfig
	FaceService FaceServiceConfig
	Matching    MatchingConfig
	Attendance  AttendanceConfig
	Camera      CameraConfig
	Web         WebConfig
	Roster      RosterConfig
	Log         LogConfig
	Categories  CategoriesConfig
}

type DatabaseConfig struct {
	URL          string        // PostgreSQL connection URL
	MaxOpenConns int           // Maximum open connections (default 25)
	MaxIdleConns int           // Maximum idle connections (default 5)
	MaxRetries   int           // Attempts for transient failures before giving up (default 3)
	WriteTimeout time.Duration // Upper bound for a single ledger transaction (default 10s)
}

type FaceServiceConfig struct {
	URL     string        // defaults to http://localhost:8000
	Model   string        // embedding model name, informational
	Timeout time.Duration // per request (default 15s)
}

type MatchingConfig struct {
	StrictThreshold   float64 // tier A acceptance bound
	LenientThreshold  float64 // tier B acceptance bound
	FallbackThreshold float64 // tier C acceptance bound
	FallbackEnabled   bool    // run tier C at all
	Metric            string  // euclidean or cosine
	ExtractWorkers    int     // concurrent embedding extractions across all flows
	MaxFrameSize      int     // frames are downscaled so neither side exceeds this
	ReloadInterval    time.Duration
	EncodingsFile     string // optional JSON gallery; when empty the gallery is read from PostgreSQL
	UseHNSW           bool   // approximate index for large galleries
	HNSWMinSize       int    // gallery size from which the HNSW index is built
}

type AttendanceConfig struct {
	MinimumMinutes int           // -1 when unset
	CoolDown       time.Duration // 0 when unset
	TimeZone       string        // scope dates are computed in this zone
}

type CameraConfig struct {
	EntrySource   string
	ExitSource    string
	MaxRetries    int
	RetryDelay    time.Duration
	ReadTimeout   time.Duration
	FrameInterval time.Duration
	LockDir       string
}

type WebConfig struct {
	Host           string
	Port           int
	APIKey         string   // when set, every /api route except health requires X-API-Key
	AllowedOrigins []string // browser origins allowed to call the API
	AllowLocalhost bool     // also allow any localhost origin
}

type RosterConfig struct {
	DatabaseURL string // MariaDB/MySQL DSN of the student information system
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text or json
}

type CategoriesConfig struct {
	Default    string   `yaml:"default"`
	Categories []string `yaml:"categories"`
}

// Contains reports whether category is part of the catalogue.
func (c *CategoriesConfig) Contains(category string) bool {
	for _, known := range c.Categories {
		if known == category {
			return true
		}
	}
	return false
}

// envInt reads an environment variable and parses it as an integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

// envDuration accepts Go durations ("5s") or plain seconds ("5").
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

// envList splits a comma separated variable, dropping empty items.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func loadCategories() CategoriesConfig {
	var categories CategoriesConfig
	if err := yaml.Unmarshal(categoriesYAML, &categories); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded categories.yaml: " + err.Error())
	}
	if env := os.Getenv("ATTENDANCE_CATEGORIES"); env != "" {
		categories.Categories = nil
		for c := range strings.SplitSeq(env, ",") {
			if c = strings.TrimSpace(c); c != "" {
				categories.Categories = append(categories.Categories, c)
			}
		}
	}
	categories.Default = envString("ATTENDANCE_DEFAULT_CATEGORY", categories.Default)
	return categories
}

func Load() *Config {
	return &Config{
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
			MaxRetries:   envInt("DATABASE_MAX_RETRIES", 3),
			WriteTimeout: envDuration("DATABASE_WRITE_TIMEOUT", 10*time.Second),
		},
		FaceService: FaceServiceConfig{
			URL:     os.Getenv("FACE_SERVICE_URL"),
			Model:   envString("FACE_SERVICE_MODEL", "dlib_resnet"),
			Timeout: envDuration("FACE_SERVICE_TIMEOUT", 15*time.Second),
		},
		Matching: MatchingConfig{
			StrictThreshold:   envFloat("MATCH_STRICT_THRESHOLD", 0.45),
			LenientThreshold:  envFloat("MATCH_LENIENT_THRESHOLD", 0.50),
			FallbackThreshold: envFloat("MATCH_FALLBACK_THRESHOLD", 0.60),
			FallbackEnabled:   envBool("MATCH_FALLBACK_ENABLED", false),
			Metric:            envString("MATCH_METRIC", "euclidean"),
			ExtractWorkers:    envInt("MATCH_EXTRACT_WORKERS", 4),
			MaxFrameSize:      envInt("MATCH_MAX_FRAME_SIZE", 1280),
			ReloadInterval:    envDuration("MATCH_RELOAD_INTERVAL", 5*time.Second),
			EncodingsFile:     os.Getenv("MATCH_ENCODINGS_FILE"),
			UseHNSW:           envBool("MATCH_USE_HNSW", false),
			HNSWMinSize:       envInt("MATCH_HNSW_MIN_SIZE", 5000),
		},
		Attendance: AttendanceConfig{
			MinimumMinutes: envInt("ATTENDANCE_MINIMUM_MINUTES", -1),
			CoolDown:       envDuration("ATTENDANCE_COOLDOWN", 0),
			TimeZone:       envString("ATTENDANCE_TIMEZONE", "Local"),
		},
		Camera: CameraConfig{
			EntrySource:   os.Getenv("CAMERA_ENTRY_SOURCE"),
			ExitSource:    os.Getenv("CAMERA_EXIT_SOURCE"),
			MaxRetries:    envInt("CAMERA_RECONNECT_ATTEMPTS", 5),
			RetryDelay:    envDuration("CAMERA_RECONNECT_DELAY", 2*time.Second),
			ReadTimeout:   envDuration("CAMERA_READ_TIMEOUT", 10*time.Second),
			FrameInterval: envDuration("CAMERA_FRAME_INTERVAL", 250*time.Millisecond),
			LockDir:       envString("CAMERA_LOCK_DIR", os.TempDir()),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8080),
			APIKey:         os.Getenv("WEB_API_KEY"),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
			AllowLocalhost: envBool("WEB_CORS_LOCALHOST", true),
		},
		Roster: RosterConfig{
			DatabaseURL: os.Getenv("ROSTER_DATABASE_URL"),
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "text"),
		},
		Categories: loadCategories(),
	}
}

// ValidateAttendance checks the deployment parameters every presence flow needs.
// Neither value has a built-in default.
func (c *Config) ValidateAttendance() error {
	var errs []error
	if c.Attendance.MinimumMinutes < 0 {
		errs = append(errs, errors.New("ATTENDANCE_MINIMUM_MINUTES is required"))
	}
	if c.Attendance.CoolDown <= 0 {
		errs = append(errs, errors.New("ATTENDANCE_COOLDOWN is required (e.g. 5s)"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ValidateMatching checks the threshold ladder.
func (c *Config) ValidateMatching() error {
	m := c.Matching
	if m.StrictThreshold <= 0 || m.LenientThreshold < m.StrictThreshold {
		return fmt.Errorf("thresholds must satisfy 0 < strict (%.2f) <= lenient (%.2f)",
			m.StrictThreshold, m.LenientThreshold)
	}
	if m.FallbackEnabled && m.FallbackThreshold < m.LenientThreshold {
		return fmt.Errorf("fallback threshold %.2f must not be below lenient %.2f",
			m.FallbackThreshold, m.LenientThreshold)
	}
	if m.Metric != "euclidean" && m.Metric != "cosine" {
		return fmt.Errorf("MATCH_METRIC must be euclidean or cosine, got %q", m.Metric)
	}
	return nil
}

// Location resolves the configured attendance time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Attendance.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("ATTENDANCE_TIMEZONE %q: %w", c.Attendance.TimeZone, err)
	}
	return loc, nil
}
