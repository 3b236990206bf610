package config // package config loads application configuration from environment variables

import (
	"log"     // log is used to report configuration errors and halt execution
	"os"      // os provides access to environment variables
	"strconv" // strconv converts strings to other types
	"time"    // time parses duration tunables

	"github.com/joho/godotenv" // loads a local .env file when present
)

// Config holds all runtime configuration values.  Each field corresponds
// to an environment variable.  Required variables (database, port, JWT
// secret, collaborator URLs) are enforced by must(); engine tunables
// default to the reference deployment values so a bare environment still
// runs.
type Config struct {
	Env       string // application environment (e.g. "dev", "prod")
	Port      string // HTTP port to listen on
	DBUser    string // database username
	DBPass    string // database password (optional)
	DBHost    string // database host address
	DBPort    string // database port number
	DBName    string // database name
	JWTSecret string // secret used to verify access tokens

	LogLevel  string // zerolog level (debug, info, warn, error)
	LogPretty bool   // human-readable console output

	Tick                 time.Duration // scheduler wake-up interval
	RosterScanEvery      int           // ticks between upstream change scans
	EligibilityScanEvery int           // ticks between eligibility re-checks
	DirtyBatch           int           // dirty sections reconciled per tick
	QueueBatch           int           // sync queue entries drained per pass
	TickBudget           time.Duration // wall-clock bound on one tick's work
	DedupeCacheSize      int           // bounded in-memory de-dup entries

	EditWindow        time.Duration // post-claim seat edit window
	DestructiveDelete bool          // allow teardown of ineligible sections

	RateCapacity int           // token bucket size per client
	RateRefill   int           // tokens added per refill interval
	RateInterval time.Duration // refill interval
	CacheTTL     time.Duration // read endpoint cache lifetime

	RosterBaseURL    string // roster provider base URL
	ContextBaseURL   string // context directory base URL
	DirectoryBaseURL string // external group directory base URL
}

// Load reads configuration from the environment, first merging in a .env
// file when one exists.  Missing required variables cause a fatal log.
func Load() Config {
	_ = godotenv.Load() // absent .env is fine; real env always wins

	return Config{
		Env:       must("APP_ENV"),
		Port:      must("APP_PORT"),
		DBUser:    must("DB_USER"),
		DBPass:    os.Getenv("DB_PASS"),
		DBHost:    must("DB_HOST"),
		DBPort:    must("DB_PORT"),
		DBName:    must("DB_NAME"),
		JWTSecret: must("JWT_SECRET"),

		LogLevel:  envStr("LOG_LEVEL", "info"),
		LogPretty: envBool("LOG_PRETTY", false),

		Tick:                 envDur("SYNC_TICK", time.Second),
		RosterScanEvery:      envInt("SYNC_ROSTER_SCAN_EVERY", 30),
		EligibilityScanEvery: envInt("SYNC_ELIGIBILITY_SCAN_EVERY", 600),
		DirtyBatch:           envInt("SYNC_DIRTY_BATCH", 20),
		QueueBatch:           envInt("SYNC_QUEUE_BATCH", 50),
		TickBudget:           envDur("SYNC_TICK_BUDGET", 30*time.Second),
		DedupeCacheSize:      envInt("SYNC_DEDUPE_CACHE_SIZE", 500),

		EditWindow:        envDur("SEAT_EDIT_WINDOW", 30*time.Minute),
		DestructiveDelete: envBool("DESTRUCTIVE_DELETES", false),

		RateCapacity: envInt("RATE_LIMIT_CAPACITY", 60),
		RateRefill:   envInt("RATE_LIMIT_REFILL", 60),
		RateInterval: envDur("RATE_LIMIT_INTERVAL", time.Minute),
		CacheTTL:     envDur("CACHE_TTL", 30*time.Second),

		RosterBaseURL:    must("ROSTER_BASE_URL"),
		ContextBaseURL:   must("CONTEXT_BASE_URL"),
		DirectoryBaseURL: must("DIRECTORY_BASE_URL"),
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "True", "yes", "on":
		return true
	case "0", "false", "FALSE", "False", "no", "off":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
