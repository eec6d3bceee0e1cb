package app

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"listing_f1s/internal/auth"
	"listing_f1s/internal/config"
	"listing_f1s/internal/notifications"
	"listing_f1s/internal/ratings"
	"listing_f1s/internal/reference"
	"listing_f1s/internal/sheets"
	"listing_f1s/internal/tasks"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupEnvironment loads .env file and configures zerolog output and log level.
func SetupEnvironment() {
	// Load .env file if it exists
	err := godotenv.Load()

	// Configure logging
	if os.Getenv("ENV") == "production" {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = log.Output(os.Stderr)
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	zerolog.SetGlobalLevel(logLevel(os.Getenv("LOGLEVEL"), os.Getenv("ENV") == "production"))

	// wait until now to report on the .env file so we have the chance to set up logging first
	if err == nil {
		log.Debug().Msg("Loaded environment variables from .env file.")
	} else {
		log.Debug().Msg("No .env file found or error loading .env file; proceeding with existing environment variables.")
	}
}

func logLevel(value string, production bool) zerolog.Level {
	switch levelStr := strings.ToLower(value); levelStr {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	case "disabled":
		return zerolog.Disabled
	case "":
		if production {
			return zerolog.WarnLevel
		}
		return zerolog.InfoLevel
	default:
		log.Warn().Msgf("Unknown LOGLEVEL '%s', defaulting to info.", levelStr)
		return zerolog.InfoLevel
	}
}

// env reads configuration values and remembers which required keys were missing.
type env struct {
	getenv  func(string) string
	missing []string
	errs    []string
}

// GetRequiredEnv records key as missing when it is not set.
func (e *env) GetRequiredEnv(key string) string {
	value := strings.TrimSpace(e.getenv(key))
	if value == "" {
		e.missing = append(e.missing, key)
	}
	return value
}

// GetEnvWithDefault fetches an environment variable with a default fallback.
func (e *env) GetEnvWithDefault(key, defaultValue string) string {
	value := strings.TrimSpace(e.getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func (e *env) boolean(key string, defaultValue bool) bool {
	value := e.GetEnvWithDefault(key, strconv.FormatBool(defaultValue))
	b, err := strconv.ParseBool(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: %q is not a boolean", key, value))
	}
	return b
}

func (e *env) integer(key string, defaultValue int) int {
	value := e.GetEnvWithDefault(key, strconv.Itoa(defaultValue))
	n, err := strconv.Atoi(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: %q is not an integer", key, value))
	}
	return n
}

func (e *env) duration(key string, defaultValue time.Duration) time.Duration {
	value := e.GetEnvWithDefault(key, defaultValue.String())
	d, err := time.ParseDuration(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: %q is not a duration", key, value))
	}
	return d
}

func (e *env) err() error {
	var parts []string
	if len(e.missing) > 0 {
		parts = append(parts, "missing required environment variables: "+strings.Join(e.missing, ", "))
	}
	parts = append(parts, e.errs...)
	if len(parts) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(parts, "; "))
}

// LoadConfig resolves a run configuration from the process environment.
func LoadConfig() (Config, error) {
	return loadConfig(os.Getenv)
}

func loadConfig(getenv func(string) string) (Config, error) {
	e := &env{getenv: getenv}

	name := e.GetRequiredEnv("MARKETPLACE")
	market, err := config.LookupMarketplace(name)
	if err != nil && name != "" {
		e.errs = append(e.errs, err.Error())
	}

	cfg := Config{
		Market:     market,
		ListingURI: e.GetRequiredEnv("LISTING_URI"),
		BarcodeURI: e.GetEnvWithDefault("BARCODE_URI", ""),
		OutputURI:  e.GetEnvWithDefault("OUTPUT_URI", market.OutputName),

		DescriptionURL:         e.GetEnvWithDefault("DESCRIPTION_SOURCE_URL", market.Description.URL),
		SubstituteURL:          e.GetEnvWithDefault("SUBSTITUTE_SOURCE_URL", market.Substitute.URL),
		ReferenceSpreadsheetID: e.GetEnvWithDefault("REFERENCE_SPREADSHEET_ID", ""),
		DescriptionRange:       e.GetEnvWithDefault("DESCRIPTION_RANGE", "Descriptions!A:Z"),
		SubstituteRange:        e.GetEnvWithDefault("SUBSTITUTE_RANGE", "F1 to Use!A:Z"),
		CredentialsFile:        e.GetEnvWithDefault("GOOGLE_CREDENTIALS_FILE", "credentials.json"),

		CreateTasks:  e.boolean("CREATE_TASKS", false),
		DedupeTasks:  e.boolean("DEDUPE_TASKS", false),
		TasksBaseURL: e.GetEnvWithDefault("TASKS_BASE_URL", tasks.DefaultBaseURL),

		NewCodesSpreadsheetID: e.GetEnvWithDefault("NEW_CODES_SPREADSHEET_ID", ""),
		NewCodesRange:         e.GetEnvWithDefault("NEW_CODES_RANGE", "New codes!A1"),

		NtfyEnabled: e.boolean("NTFY_ENABLED", false),
		NtfyURL:     e.GetEnvWithDefault("NTFY_URL", "https://ntfy.sh"),
		NtfyTopic:   e.GetEnvWithDefault("NTFY_TOPIC", "listing-f1s"),

		Resilience: config.DefaultResilienceConfig,
	}

	if market.RatingSource == config.RatingFromAPI {
		cfg.BaseURL = e.GetRequiredEnv("MARKETPLACE_BASE_URL")
		cfg.ClientID = e.GetRequiredEnv("CLIENT_ID")
		cfg.ClientSecret = e.GetRequiredEnv("CLIENT_SECRET")
		cfg.TokenURL = e.GetRequiredEnv("TOKEN_URL")
		cfg.RatingInterval = e.duration("RATING_INTERVAL", market.CallInterval)
		cfg.RatingMaxReauth = e.integer("RATING_MAX_REAUTH", market.MaxReauth)
		cfg.Resilience.RatingRequest.MaxRetries = e.integer("RATING_MAX_RETRIES", cfg.Resilience.RatingRequest.MaxRetries)
		cfg.Resilience.RatingRequest.BaseDelay = e.duration("RATING_BASE_DELAY", cfg.Resilience.RatingRequest.BaseDelay)
	}
	if cfg.CreateTasks || cfg.DedupeTasks {
		cfg.TasksToken = e.GetRequiredEnv("TASKS_TOKEN")
	}

	if err := e.err(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// InitializeRatingClient builds the ratings client and its token source.
func InitializeRatingClient(cfg Config) *ratings.Client {
	log.Debug().
		Str("base_url", cfg.BaseURL).
		Dur("interval", cfg.RatingInterval).
		Msg("Initializing ratings client")
	tokens := auth.NewClientCredentials(cfg.ClientID, cfg.ClientSecret, cfg.TokenURL)
	return ratings.NewClient(ratings.Config{
		BaseURL:   cfg.BaseURL,
		Path:      cfg.Market.RatingPath,
		Accept:    cfg.Market.RatingAccept,
		Interval:  cfg.RatingInterval,
		MaxReauth: cfg.RatingMaxReauth,
		Retry:     cfg.Resilience.RatingRequest,
	}, tokens)
}

// InitializeSheetsClient returns nil when no component reads or writes Google Sheets.
func InitializeSheetsClient(ctx context.Context, cfg Config) (*sheets.Client, error) {
	if !cfg.UsesSheetsAPI() {
		return nil, nil
	}
	log.Debug().Str("credentials", cfg.CredentialsFile).Msg("Initializing sheets client")
	return sheets.NewClient(ctx, cfg.CredentialsFile)
}

// InitializeReferenceLoader picks the Sheets API or the published CSVs.
func InitializeReferenceLoader(cfg Config, sheetsClient *sheets.Client) *reference.Loader {
	loader := &reference.Loader{
		DescriptionHeaderRow: cfg.Market.Description.HeaderRow,
		SubstituteHeaderRow:  cfg.Market.Substitute.HeaderRow,
		SubstituteFirstCol:   cfg.Market.SubstituteFirstCol,
		SubstituteLastCol:    cfg.Market.SubstituteLastCol,
	}
	if cfg.ReferenceSpreadsheetID != "" && sheetsClient != nil {
		loader.Description = &reference.SheetsSource{Reader: sheetsClient, SpreadsheetID: cfg.ReferenceSpreadsheetID, Range: cfg.DescriptionRange}
		loader.Substitute = &reference.SheetsSource{Reader: sheetsClient, SpreadsheetID: cfg.ReferenceSpreadsheetID, Range: cfg.SubstituteRange}
		log.Info().Str("spreadsheet", cfg.ReferenceSpreadsheetID).Msg("Reading reference tables through the Sheets API")
		return loader
	}
	loader.Description = reference.NewHTTPSource(cfg.DescriptionURL, cfg.Resilience.ReferenceFetch)
	loader.Substitute = reference.NewHTTPSource(cfg.SubstituteURL, cfg.Resilience.ReferenceFetch)
	return loader
}

// InitializeTasksClient returns nil when tasks are neither created nor deduplicated.
func InitializeTasksClient(cfg Config) *tasks.Client {
	if cfg.TasksToken == "" {
		return nil
	}
	return tasks.NewClient(cfg.TasksBaseURL, cfg.TasksToken, cfg.Resilience.TaskRequest)
}

// InitializeNotificationClient creates and returns the notification client
func InitializeNotificationClient(cfg Config) *notifications.Client {
	log.Debug().
		Bool("enabled", cfg.NtfyEnabled).
		Str("base_url", cfg.NtfyURL).
		Str("topic", cfg.NtfyTopic).
		Msg("Initializing notification client")

	client := notifications.NewClient(cfg.NtfyURL, cfg.NtfyTopic, cfg.NtfyEnabled, "default", 3, time.Second, 10*time.Second)

	if cfg.NtfyEnabled {
		log.Info().Str("topic", cfg.NtfyTopic).Msg("Notifications enabled")
	} else {
		log.Debug().Msg("Notifications disabled")
	}
	return client
}
