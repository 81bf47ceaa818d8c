package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/miekg/dns"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/angeloszaimis/dnslb/internal/healthcheck"
	"github.com/angeloszaimis/dnslb/internal/zone"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	FormatJSON = "json"
	FormatBind = "bind"
)

const (
	ShutdownHalt  = "halt"
	ShutdownDrain = "drain"
)

// EnvPrefix prefixes environment overrides, e.g. DNSLB_ZONE_FILE.
const EnvPrefix = "DNSLB"

// keyDelimiter separates nested keys. Host labels may contain dots, so the
// usual "." would split them.
const keyDelimiter = "::"

var ErrConfigNotFound = errors.New("configuration file does not exist")

type ZoneConfig struct {
	File     string `mapstructure:"file"`
	Format   string `mapstructure:"format"`
	Origin   string `mapstructure:"origin"`
	TTL      int    `mapstructure:"ttl"`
	MaxHosts int    `mapstructure:"max_hosts"`
}

type RedisConfig struct {
	Address string `mapstructure:"address"`
	Key     string `mapstructure:"key"`
	Channel string `mapstructure:"channel"`
}

type PublishConfig struct {
	MaxChanges int         `mapstructure:"max_changes"`
	MaxAge     string      `mapstructure:"max_age"`
	Redis      RedisConfig `mapstructure:"redis"`
}

type MonitorConfig struct {
	Multiplier   int    `mapstructure:"multiplier"`
	Timeout      string `mapstructure:"timeout"`
	SleepTime    string `mapstructure:"sleep_time"`
	PollInterval string `mapstructure:"poll_interval"`
	QueueSize    int    `mapstructure:"queue_size"`
	History      int    `mapstructure:"history"`
	Shutdown     string `mapstructure:"shutdown"`
}

type NotifyConfig struct {
	Mail          string `mapstructure:"mail"`
	Sender        string `mapstructure:"sender"`
	SMTPAddress   string `mapstructure:"smtp_address"`
	FlapThreshold int    `mapstructure:"flap_threshold"`
	FlapWindow    string `mapstructure:"flap_window"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	Environment string `mapstructure:"environment"`
}

type StatusConfig struct {
	Address string `mapstructure:"address"`
}

type Config struct {
	Contact     string                              `mapstructure:"contact"`
	Nameservers []string                            `mapstructure:"nameservers"`
	Aliases     []string                            `mapstructure:"aliases"`
	Hosts       map[string][]string                 `mapstructure:"hosts"`
	Labels      map[string][]string                 `mapstructure:"labels"`
	Checks      []map[string]map[string]interface{} `mapstructure:"checks"`

	Zone    ZoneConfig    `mapstructure:"zone"`
	Publish PublishConfig `mapstructure:"publish"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Logging LoggingConfig `mapstructure:"logging"`
	Status  StatusConfig  `mapstructure:"status"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("zone::file", "zone.json")
	v.SetDefault("zone::format", FormatJSON)
	v.SetDefault("zone::origin", "")
	v.SetDefault("zone::ttl", zone.DefaultTTL)
	v.SetDefault("zone::max_hosts", zone.DefaultMaxHosts)

	v.SetDefault("publish::max_changes", 0)
	v.SetDefault("publish::max_age", "1h")
	v.SetDefault("publish::redis::address", "")
	v.SetDefault("publish::redis::key", "dnslb:zone")
	v.SetDefault("publish::redis::channel", "dnslb:zone")

	v.SetDefault("monitor::multiplier", 2)
	v.SetDefault("monitor::timeout", "10s")
	v.SetDefault("monitor::sleep_time", "30s")
	v.SetDefault("monitor::poll_interval", "1s")
	v.SetDefault("monitor::queue_size", 0)
	v.SetDefault("monitor::history", 5)
	v.SetDefault("monitor::shutdown", ShutdownHalt)

	v.SetDefault("notify::mail", "")
	v.SetDefault("notify::sender", "noreply@localhost.localdomain")
	v.SetDefault("notify::smtp_address", "localhost:25")
	v.SetDefault("notify::flap_threshold", 0)
	v.SetDefault("notify::flap_window", "10m")

	v.SetDefault("logging::level", LogLevelInfo)
	v.SetDefault("logging::file", "")
	v.SetDefault("logging::environment", EnvDev)

	v.SetDefault("status::address", "")
}

// Load reads the YAML file at path, applies DNSLB_* environment overrides
// and then any flags the operator set explicitly. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
	}

	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(keyDelimiter, "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		slog.Error("failed to read config file", slog.String("error", err.Error()))
		return nil, fmt.Errorf("read config: %w", err)
	}
	slog.Debug("loaded config file", slog.String("file", v.ConfigFileUsed()))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	if cfg.Logging.Level == "warning" {
		cfg.Logging.Level = LogLevelWarn
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Contact, validation.By(validateDomainName)),
		validation.Field(&c.Nameservers, validation.Each(validation.By(validateDomainName))),
		validation.Field(&c.Aliases, validation.Each(validation.By(validateDomainName))),
		validation.Field(&c.Hosts,
			validation.Required,
			validation.By(validateHosts),
		),
		validation.Field(&c.Labels, validation.By(validateLabels)),
		validation.Field(&c.Checks,
			validation.Required,
			validation.Each(validation.By(validateCheckSpec)),
		),
		validation.Field(&c.Zone,
			validation.By(func(value interface{}) error {
				zc, ok := value.(ZoneConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ZoneConfig")
				}
				return validation.ValidateStruct(&zc,
					validation.Field(&zc.File, validation.Required),
					validation.Field(&zc.Format,
						validation.Required,
						validation.In(FormatJSON, FormatBind),
					),
					validation.Field(&zc.Origin, validation.By(validateDomainName)),
					validation.Field(&zc.TTL, validation.Min(0)),
					validation.Field(&zc.MaxHosts, validation.Min(0)),
				)
			}),
		),
		validation.Field(&c.Publish,
			validation.By(func(value interface{}) error {
				pc, ok := value.(PublishConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a PublishConfig")
				}
				return validation.ValidateStruct(&pc,
					validation.Field(&pc.MaxChanges, validation.Min(0)),
					validation.Field(&pc.MaxAge,
						validation.Required,
						validation.By(validateAge),
					),
					validation.Field(&pc.Redis,
						validation.By(func(value interface{}) error {
							rc, ok := value.(RedisConfig)
							if !ok {
								return validation.NewError("validation_invalid_type", "must be a RedisConfig")
							}
							return validation.ValidateStruct(&rc,
								validation.Field(&rc.Address, validation.By(validateHostPort)),
								validation.Field(&rc.Key, validation.When(rc.Address != "", validation.Required)),
							)
						}),
					),
				)
			}),
		),
		validation.Field(&c.Monitor,
			validation.By(func(value interface{}) error {
				mc, ok := value.(MonitorConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a MonitorConfig")
				}
				return validation.ValidateStruct(&mc,
					validation.Field(&mc.Multiplier, validation.Required, validation.Min(1)),
					validation.Field(&mc.Timeout, validation.Required, validation.By(validateDuration)),
					validation.Field(&mc.SleepTime, validation.Required, validation.By(validateDuration)),
					validation.Field(&mc.PollInterval, validation.Required, validation.By(validateDuration)),
					validation.Field(&mc.QueueSize, validation.Min(0)),
					validation.Field(&mc.History, validation.Required, validation.Min(2)),
					validation.Field(&mc.Shutdown,
						validation.Required,
						validation.In(ShutdownHalt, ShutdownDrain),
					),
				)
			}),
		),
		validation.Field(&c.Notify,
			validation.By(func(value interface{}) error {
				nc, ok := value.(NotifyConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a NotifyConfig")
				}
				return validation.ValidateStruct(&nc,
					validation.Field(&nc.Mail, is.EmailFormat),
					validation.Field(&nc.Sender,
						validation.When(nc.Mail != "", validation.Required),
						is.EmailFormat,
					),
					validation.Field(&nc.SMTPAddress,
						validation.When(nc.Mail != "", validation.Required),
						validation.By(validateHostPort),
					),
					validation.Field(&nc.FlapThreshold, validation.Min(0)),
					validation.Field(&nc.FlapWindow,
						validation.When(nc.FlapThreshold > 0, validation.Required),
						validation.By(validateDuration),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
					validation.Field(&lc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
				)
			}),
		),
		validation.Field(&c.Status,
			validation.By(func(value interface{}) error {
				sc, ok := value.(StatusConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a StatusConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Address, validation.By(validateHostPort)),
				)
			}),
		),
	)
}

// AllHosts lists every configured address once, ordered by label.
func (c *Config) AllHosts() []string {
	labels := make([]string, 0, len(c.Hosts))
	for label := range c.Hosts {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	seen := make(map[string]struct{})
	var hosts []string
	for _, label := range labels {
		for _, ip := range c.Hosts[label] {
			if _, dup := seen[ip]; dup {
				continue
			}
			seen[ip] = struct{}{}
			hosts = append(hosts, ip)
		}
	}
	return hosts
}

// Topology is the part of the configuration the zone builder consumes.
func (c *Config) Topology() zone.Topology {
	return zone.Topology{
		Contact:     c.Contact,
		Nameservers: c.Nameservers,
		Aliases:     c.Aliases,
		Hosts:       c.Hosts,
		Labels:      c.Labels,
	}
}

// ResolveChecks binds the configured checks against registry. An unknown
// check name is a configuration error.
func (c *Config) ResolveChecks(registry *healthcheck.Registry) ([]healthcheck.Bound, error) {
	return registry.Resolve(c.Checks)
}

// ChangeBudget is the configured max_changes, or one less than the number
// of hosts (at least one) when unset.
func (c *Config) ChangeBudget() int {
	if c.Publish.MaxChanges > 0 {
		return c.Publish.MaxChanges
	}
	return max(len(c.AllHosts())-1, 1)
}

// MaxAge is the longest a zone may go unpublished.
func (c *Config) MaxAge() time.Duration {
	d, _ := ParseAge(c.Publish.MaxAge)
	return d
}

func (c *Config) Timeout() time.Duration {
	d, _ := ParseDuration(c.Monitor.Timeout)
	return d
}

func (c *Config) SleepTime() time.Duration {
	d, _ := ParseDuration(c.Monitor.SleepTime)
	return d
}

func (c *Config) PollInterval() time.Duration {
	d, _ := ParseDuration(c.Monitor.PollInterval)
	return d
}

func (c *Config) FlapWindow() time.Duration {
	d, _ := ParseDuration(c.Notify.FlapWindow)
	return d
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if addr == "" {
		return nil
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if durationStr == "" {
		return nil
	}

	d, err := ParseDuration(durationStr)
	if err != nil || d <= 0 {
		return validation.NewError("validation_invalid_duration", "must be a positive duration (e.g., 30, 2s, 5m)")
	}

	return nil
}

func validateAge(value interface{}) error {
	age, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	d, err := ParseAge(age)
	if err != nil {
		return validation.NewError("validation_invalid_age", "must be a duration (e.g., 90m, 3600, 1w 2d 3h 4m)")
	}
	// A zero age would republish every round and bypass the change budget.
	if d <= 0 {
		return validation.NewError("validation_invalid_age", "must be a positive duration")
	}

	return nil
}

func validateDomainName(value interface{}) error {
	name, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if name == "" {
		return nil
	}

	if _, ok := dns.IsDomainName(name); !ok {
		return validation.NewError("validation_invalid_domain", "must be a valid domain name")
	}

	return nil
}

func validateHosts(value interface{}) error {
	hosts, ok := value.(map[string][]string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must map labels to addresses")
	}

	for label, addresses := range hosts {
		if err := validateDomainName(label); err != nil {
			return fmt.Errorf("%s: %w", label, err)
		}
		if len(addresses) == 0 {
			return validation.NewError("validation_empty_host", label+": needs at least one address")
		}
		for _, ip := range addresses {
			if err := is.IP.Validate(ip); err != nil {
				return fmt.Errorf("%s: %q: %w", label, ip, err)
			}
		}
	}

	return nil
}

func validateLabels(value interface{}) error {
	labels, ok := value.(map[string][]string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must map groups to members")
	}

	for group := range labels {
		if err := validateDomainName(group); err != nil {
			return fmt.Errorf("%s: %w", group, err)
		}
	}

	return nil
}

func validateCheckSpec(value interface{}) error {
	spec, ok := value.(map[string]map[string]interface{})
	if !ok {
		return validation.NewError("validation_invalid_type", "must map a check name to its parameters")
	}

	if len(spec) == 0 {
		return validation.NewError("validation_empty_check", "must name a check")
	}

	return nil
}
