package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/icodeforyou/pvforecast/httpclient"
	"github.com/icodeforyou/pvforecast/logging"
	"github.com/icodeforyou/pvforecast/pvmodel"
	"github.com/icodeforyou/pvforecast/series"
	"github.com/icodeforyou/pvforecast/types"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type AppConfigApi struct {
	Address string
	Port    int16
}

type AppConfigDatabase struct {
	// Store forecasts in the relational database, default: true
	Enabled *bool
	// "sqlite" or "postgres", default: "sqlite"
	Driver string `validate:"omitempty,oneof=sqlite postgres"`
	// Database file for sqlite
	Path string `validate:"required_if=Driver sqlite"`
	// Connection string for postgres
	DSN string `mapstructure:"dsn" validate:"required_if=Driver postgres"`
	// How many days forecasts should be stored in database before they get purged, 0 keeps them forever
	DataRetentionDays *int `mapstructure:"data_retention_days"`
	// How many days daily backup files should be stored before they gets deleted
	BackupRetentionDays *int `mapstructure:"backup_retention_days"`
}

func (d AppConfigDatabase) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

func (d AppConfigDatabase) GetDataRetentionDays() int {
	if d.DataRetentionDays == nil {
		return 0
	}
	return *d.DataRetentionDays
}

func (d AppConfigDatabase) GetBackupRetentionDays() int {
	if d.BackupRetentionDays == nil {
		return 90
	}
	return *d.BackupRetentionDays
}

type AppConfigInflux struct {
	Enabled bool
	URL     string `mapstructure:"url" validate:"required_if=Enabled true,omitempty,url"`
	Token   string
	Org     string
	Bucket  string
	// InfluxDB 1.8, used without token
	Username        string
	Password        string
	Database        string
	RetentionPolicy string `mapstructure:"retention_policy"`
	// How many days back forecast_log is searched for the last issue time, default: 30
	LogLookbackDays *int `mapstructure:"log_lookback_days"`
}

func (i AppConfigInflux) GetLogLookback() time.Duration {
	if i.LogLookbackDays == nil {
		return 30 * 24 * time.Hour
	}
	return time.Duration(*i.LogLookbackDays) * 24 * time.Hour
}

type AppConfigMqtt struct {
	Enabled  bool
	Host     string `validate:"required_if=Enabled true"`
	Port     int16
	Username string
	Password string
	// Topics are <topic_prefix>/<table>, default: "pvforecast"
	TopicPrefix *string `mapstructure:"topic_prefix"`
}

func (m AppConfigMqtt) GetTopicPrefix() string {
	if m.TopicPrefix == nil {
		return "pvforecast"
	}
	return *m.TopicPrefix
}

type AppConfigHttp struct {
	// Timeout of a single request in seconds, default: 30
	Timeout *int
	// Retries after a failed request, default: 2
	MaxRetries *int `mapstructure:"max_retries"`
}

func (h AppConfigHttp) ClientConfig() httpclient.Config {
	cfg := httpclient.DefaultConfig()
	if h.Timeout != nil {
		cfg.Timeout = time.Duration(*h.Timeout) * time.Second
	}
	if h.MaxRetries != nil {
		cfg.MaxRetries = *h.MaxRetries
	}
	return cfg
}

type AppConfigLogging struct {
	// Min log level for database : "DEBUG", "INFO", "WARN", "ERROR", default: "INFO"
	DbLevel *string `mapstructure:"db_level"`
	// Log attributes format: "TEXT", "JSON", default: "JSON"
	DbAttrsFormat *string `mapstructure:"db_attrs_format"`
	// Maximum number of log entries in the database, default: 10000
	DbMaxEntries *int `mapstructure:"db_max_entries"`
	// Min log level for database console: "DEBUG", "INFO", "WARN", "ERROR", default: "INFO"
	ConsoleLevel *string `mapstructure:"console_level"`
}

func (l AppConfigLogging) GetDbLevel() slog.Level {
	return logging.LevelFromString(l.DbLevel)
}

func (l AppConfigLogging) GetDbAttrsFormat() logging.LogAttrFormat {
	if l.DbAttrsFormat == nil {
		return "JSON"
	}
	if strings.EqualFold(*l.DbAttrsFormat, "text") {
		return "TEXT"
	}
	return "JSON"
}

func (l AppConfigLogging) GetDbMaxEntries() int {
	if l.DbMaxEntries == nil {
		return 10000
	}
	return *l.DbMaxEntries
}

func (l AppConfigLogging) GetConsoleLevel() slog.Level {
	return logging.LevelFromString(l.ConsoleLevel)
}

type AppConfigMaintenance struct {
	// Cron spec of the nightly backup and purge, default: "0 3 * * *"
	RunAt *string `mapstructure:"run_at"`
}

func (m AppConfigMaintenance) GetRunAt() string {
	if m.RunAt == nil {
		return "0 3 * * *"
	}
	return *m.RunAt
}

// ProviderCommon holds the settings shared by all providers.
type ProviderCommon struct {
	Enabled bool
	// Minimum minutes between two stored issue times
	Interval int `validate:"min=0"`
	// Fetch even if not due
	Force bool
	// Store in the relational database, default: true
	StoreDB *bool `mapstructure:"store_db"`
	// Store in InfluxDB
	StoreInflux bool `mapstructure:"store_influx"`
	// Write a gzipped csv file to store_path
	StoreCSV bool `mapstructure:"store_csv"`
	// Simulate the PV system on the weather and store both merged
	Irradiance bool
	// Cron spec in serve mode, default: "*/15 * * * *"
	RunAt *string `mapstructure:"run_at"`
}

func (p ProviderCommon) GetStoreDB() bool {
	return p.StoreDB == nil || *p.StoreDB
}

func (p ProviderCommon) GetRunAt() string {
	if p.RunAt == nil {
		return "*/15 * * * *"
	}
	return *p.RunAt
}

type DWDConfig struct {
	ProviderCommon `mapstructure:",squash"`
	// MOSMIX station id, e.g. "10637"
	Station string `validate:"required_if=Enabled true"`
	// Keep only the elements the PV model needs
	DropWeather bool `mapstructure:"drop_weather"`
	// Keep the downloaded kml as gz in store_path
	StoreKML bool `mapstructure:"store_kml"`
}

type OpenWeatherConfig struct {
	ProviderCommon `mapstructure:",squash"`
	ApiKey         string `mapstructure:"api_key" validate:"required_if=Enabled true"`
	DropWeather    bool   `mapstructure:"drop_weather"`
}

type VisualCrossingConfig struct {
	ProviderCommon `mapstructure:",squash"`
	ApiKey         string `mapstructure:"api_key" validate:"required_if=Enabled true"`
	DropWeather    bool   `mapstructure:"drop_weather"`
}

type SMHIConfig struct {
	ProviderCommon `mapstructure:",squash"`
	DropWeather    bool `mapstructure:"drop_weather"`
}

type SolcastConfig struct {
	ProviderCommon `mapstructure:",squash"`
	ApiKey         string `mapstructure:"api_key" validate:"required_if=Enabled true"`
	// One site, or two for a split array
	ResourceIDs []string `mapstructure:"resource_ids" validate:"required_if=Enabled true,max=2"`
	// Forecast hours, default: 168
	Hours int `validate:"min=0"`
	// "auto", "late", "early" or "24h" when interval is 0
	IntervalMode string `mapstructure:"interval_mode" validate:"omitempty,oneof=auto late early 24h"`
	// API calls per day, default: 10
	ApiCalls int `mapstructure:"api_calls" validate:"min=0"`
}

// SolcastInterval combines interval and interval_mode into one setting.
func (s SolcastConfig) SolcastInterval() string {
	if s.Interval > 0 {
		return strconv.Itoa(s.Interval)
	}
	return s.IntervalMode
}

type CO2SignalConfig struct {
	ProviderCommon `mapstructure:",squash"`
	ApiKey         string   `mapstructure:"api_key" validate:"required_if=Enabled true"`
	Zones          []string `validate:"required_if=Enabled true"`
}

type EntsoeConfig struct {
	ProviderCommon `mapstructure:",squash"`
	ApiKey         string   `mapstructure:"api_key" validate:"required_if=Enabled true"`
	Zones          []string `validate:"required_if=Enabled true"`
	KeepRaw        bool     `mapstructure:"keep_raw"`
	// Days of history the co2 model is fitted on, default: 7
	ModelDays int `mapstructure:"model_days" validate:"min=0"`
	// electricityMaps zone file with emission factors
	EmissionFactors string `mapstructure:"emission_factors"`
}

type CSVInputConfig struct {
	ProviderCommon `mapstructure:",squash"`
	Path           string `validate:"required_if=Enabled true"`
	TimeColumn     string `mapstructure:"time_column"`
	Table          string `validate:"omitempty,max=63"`
}

// ArrayConfig describes a PV array. Unset values are taken from the PV
// system, then from the PVWatts defaults.
type ArrayConfig struct {
	Suffix            string
	Latitude          *float64 `validate:"omitempty,min=-90,max=90"`
	Longitude         *float64 `validate:"omitempty,min=-180,max=180"`
	Altitude          *float64
	Tilt              *float64 `validate:"omitempty,min=0,max=90"`
	Azimuth           *float64 `validate:"omitempty,min=0,max=360"`
	SystemPower       *float64 `mapstructure:"system_power" validate:"omitempty,gt=0"`
	InverterPower     *float64 `mapstructure:"inverter_power" validate:"omitempty,gt=0"`
	NominalEfficiency *float64 `mapstructure:"nominal_efficiency" validate:"omitempty,gt=0,lte=1"`
	TemperatureCoeff  *float64 `mapstructure:"temperature_coeff"`
	TemperatureModel  *string  `mapstructure:"temperature_model"`
	Albedo            *float64 `validate:"omitempty,min=0,max=1"`
}

type PVSystem struct {
	ArrayConfig `mapstructure:",squash"`
	// "all" or a comma separated list of irradiance models
	Models string
	// How split arrays are stored: "sum", "individual" or "both", default: "sum"
	Storage string        `validate:"omitempty,oneof=sum individual both"`
	Arrays  []ArrayConfig `validate:"dive"`
}

// Resolve layers every array over the system settings and the defaults.
func (p PVSystem) Resolve() ([]pvmodel.Array, error) {
	overrides := p.Arrays
	if len(overrides) == 0 {
		overrides = []ArrayConfig{{}}
	}

	arrays := make([]pvmodel.Array, 0, len(overrides))
	for i, o := range overrides {
		a := pvmodel.DefaultArray()
		a.Tilt, a.Azimuth = 30, 180
		if err := apply(&a, p.ArrayConfig); err != nil {
			return nil, err
		}
		if err := apply(&a, o); err != nil {
			return nil, fmt.Errorf("array %d: %w", i+1, err)
		}
		if a.InverterPower == 0 {
			a.InverterPower = a.SystemPower
		}
		if p.Latitude == nil && o.Latitude == nil {
			return nil, fmt.Errorf("array %d: no latitude", i+1)
		}
		if a.SystemPower <= 0 {
			return nil, fmt.Errorf("array %d: no system power", i+1)
		}
		if len(p.Arrays) > 0 && a.Suffix == "" {
			a.Suffix = strconv.Itoa(i + 1)
		}
		arrays = append(arrays, a)
	}
	return arrays, nil
}

func apply(a *pvmodel.Array, c ArrayConfig) error {
	set := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	if c.Suffix != "" {
		a.Suffix = c.Suffix
	}
	set(&a.Latitude, c.Latitude)
	set(&a.Longitude, c.Longitude)
	set(&a.Altitude, c.Altitude)
	set(&a.Tilt, c.Tilt)
	set(&a.Azimuth, c.Azimuth)
	set(&a.SystemPower, c.SystemPower)
	set(&a.InverterPower, c.InverterPower)
	set(&a.NominalEfficiency, c.NominalEfficiency)
	set(&a.TemperatureCoeff, c.TemperatureCoeff)
	set(&a.Albedo, c.Albedo)
	if c.TemperatureModel != nil {
		m, err := pvmodel.LookupTemperatureModel(*c.TemperatureModel)
		if err != nil {
			return err
		}
		a.Temperature = m
	}
	return nil
}

func (p PVSystem) GetModels() ([]pvmodel.Model, error) {
	return pvmodel.ParseModels(p.Models)
}

func (p PVSystem) GetStorage() series.CombineMode {
	if p.Storage == "" {
		return series.CombineSum
	}
	return series.CombineMode(p.Storage)
}

type AppConfig struct {
	Api         AppConfigApi
	Database    AppConfigDatabase
	Influx      AppConfigInflux
	Mqtt        AppConfigMqtt
	Http        AppConfigHttp
	Logging     AppConfigLogging     `mapstructure:"logging"`
	Maintenance AppConfigMaintenance `mapstructure:"maintenance"`
	// Directory of csv exports and stored kml files, default: "data"
	StorePath *string  `mapstructure:"store_path"`
	PVSystem  PVSystem `mapstructure:"pv_system"`

	DWD            DWDConfig            `mapstructure:"dwd"`
	OpenWeather    OpenWeatherConfig    `mapstructure:"openweather"`
	VisualCrossing VisualCrossingConfig `mapstructure:"visualcrossing"`
	SMHI           SMHIConfig           `mapstructure:"smhi"`
	Solcast        SolcastConfig        `mapstructure:"solcast"`
	CO2Signal      CO2SignalConfig      `mapstructure:"co2signal"`
	Entsoe         EntsoeConfig         `mapstructure:"entsoe"`
	CSVInput       CSVInputConfig       `mapstructure:"csvinput"`
}

func (c AppConfig) GetStorePath() string {
	if c.StorePath == nil {
		return "data"
	}
	return *c.StorePath
}

// Load reads the config file (config/config.yaml when path is empty).
// Values from the environment, also read from a .env file, take
// precedence, e.g. SOLCAST_API_KEY for solcast.api_key.
func Load(path string) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("unable to read .env file: %w", err)
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("config")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var c AppConfig

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("unable to read config file: %w", err)
	}

	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config file: %w", err)
	}

	validate := newValidator()
	for _, s := range []any{c.Database, c.Influx, c.Mqtt, c.PVSystem} {
		if err := validate.Struct(s); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
	}

	return &c, nil
}

func newValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "" {
			return strings.ToLower(f.Name)
		}
		return name
	})
	return validate
}

// Providers returns the provider blocks by config key.
func (c *AppConfig) Providers() map[string]any {
	return map[string]any{
		"dwd":            c.DWD,
		"openweather":    c.OpenWeather,
		"visualcrossing": c.VisualCrossing,
		"smhi":           c.SMHI,
		"solcast":        c.Solcast,
		"co2signal":      c.CO2Signal,
		"entsoe":         c.Entsoe,
		"csvinput":       c.CSVInput,
	}
}

// Validate checks the provider blocks. A provider with an error must not
// be run, all others may.
func (c *AppConfig) Validate() map[string]*types.ConfigurationError {
	validate := newValidator()
	errs := make(map[string]*types.ConfigurationError)
	for name, block := range c.Providers() {
		if err := validate.Struct(block); err != nil {
			errs[name] = &types.ConfigurationError{Provider: name, Err: describe(err)}
		}
	}
	return errs
}

func describe(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s fails %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s fails %s", fe.Field(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, ", "))
}
