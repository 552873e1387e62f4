package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"pgroute/internal/engine"
	"pgroute/internal/link"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	EnvPrefix  = "PGROUTE"
	ConfigName = "pgroute"
)

type Connection struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port" validate:"omitempty,min=1,max=65535"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	IAMAuth  bool   `mapstructure:"iam_auth"`
}

type Tunnel struct {
	Host        string `mapstructure:"host" validate:"required"`
	Port        int    `mapstructure:"port" validate:"omitempty,min=1,max=65535"`
	User        string `mapstructure:"user"`
	KeyFile     string `mapstructure:"key_file"`
	Fingerprint string `mapstructure:"fingerprint"`
}

// LinkAddress overrides how linked servers reach the source.
type LinkAddress struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port" validate:"omitempty,min=1,max=65535"`
	Database string `mapstructure:"database"`
}

type Source struct {
	Name       string       `mapstructure:"name" validate:"required"`
	Schema     string       `mapstructure:"schema"`
	Secret     string       `mapstructure:"secret"`
	SecretKey  string       `mapstructure:"secret_key"`
	Connection Connection   `mapstructure:"connection"`
	Tunnel     *Tunnel      `mapstructure:"tunnel"`
	Link       *LinkAddress `mapstructure:"link"`
}

type Target struct {
	Name       string     `mapstructure:"name" validate:"required"`
	Schema     string     `mapstructure:"schema"`
	Secret     string     `mapstructure:"secret"`
	SecretKey  string     `mapstructure:"secret_key"`
	Connection Connection `mapstructure:"connection"`
	Tables     []string   `mapstructure:"tables" validate:"required,min=1,dive,required"`
}

type Link struct {
	Mode            string `mapstructure:"mode" validate:"oneof=dblink postgres_fdw"`
	ServerPrefix    string `mapstructure:"server_prefix" validate:"required"`
	CreateExtension bool   `mapstructure:"create_extension"`
	ForeignSchema   string `mapstructure:"foreign_schema" validate:"required"`
}

type Policy struct {
	FailOn     string `mapstructure:"fail_on" validate:"oneof=error warning never"`
	OnExisting string `mapstructure:"on_existing" validate:"oneof=append skip"`
}

type AWS struct {
	Region string `mapstructure:"region"`
}

type Logging struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

type Report struct {
	JSONFile    string `mapstructure:"json_file"`
	MetricsFile string `mapstructure:"metrics_file"`
}

// Config is built once per run and never mutated afterwards.
type Config struct {
	Source  Source   `mapstructure:"source"`
	Targets []Target `mapstructure:"targets" validate:"required,min=1,dive"`
	Link    Link     `mapstructure:"link"`
	Policy  Policy   `mapstructure:"policy"`
	AWS     AWS      `mapstructure:"aws"`
	Logging Logging  `mapstructure:"logging"`
	Report  Report   `mapstructure:"report"`
}

// UsesSecrets reports whether any database reads its credentials from Secrets Manager.
func (c *Config) UsesSecrets() bool {
	if c.Source.Secret != "" {
		return true
	}
	for _, t := range c.Targets {
		if t.Secret != "" {
			return true
		}
	}
	return false
}

// UsesIAM reports whether any database authenticates with RDS IAM tokens.
func (c *Config) UsesIAM() bool {
	if c.Source.Connection.IAMAuth {
		return true
	}
	for _, t := range c.Targets {
		if t.Connection.IAMAuth {
			return true
		}
	}
	return false
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("source.schema", "public")
	v.SetDefault("link.mode", link.ModeDblink)
	v.SetDefault("link.server_prefix", "pgroute_")
	v.SetDefault("link.create_extension", true)
	v.SetDefault("link.foreign_schema", link.DefaultForeignSchema)
	v.SetDefault("policy.fail_on", string(engine.FailOnError))
	v.SetDefault("policy.on_existing", string(engine.ExistingAppend))
	v.SetDefault("aws.region", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json", false)
	v.SetDefault("report.json_file", "")
	v.SetDefault("report.metrics_file", "")
}

// New returns a viper instance with defaults and PGROUTE_* environment lookups.
// file may be empty, in which case pgroute.yaml is searched next to the executable
// and then in the working directory.
func New(file string) *viper.Viper {
	v := viper.New()
	Setup(v, file)
	return v
}

// Setup prepares an existing viper instance the same way New does.
func Setup(v *viper.Viper, file string) {
	SetDefaults(v)
	if file != "" {
		v.SetConfigFile(file)
	} else {
		if ex, err := os.Executable(); err == nil {
			v.AddConfigPath(filepath.Dir(ex))
		}
		v.AddConfigPath(".")
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Read loads the config file. A missing file is only an error when one was named explicitly.
func Read(v *viper.Viper) error {
	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	return errors.Mark(errors.Wrap(err, "failed to read config file"), engine.ErrConfiguration)
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to decode config"), engine.ErrConfiguration)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks every rule and reports all violations together.
func Validate(cfg *Config) error {
	var problems []string
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return errors.Mark(errors.Wrap(err, "invalid config"), engine.ErrConfiguration)
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}

	servers := make(map[string]string, len(cfg.Targets))
	for _, t := range cfg.Targets {
		if t.Name != "" {
			server := link.ServerName(cfg.Link.ServerPrefix, t.Name)
			if prev, ok := servers[server]; ok {
				problems = append(problems, fmt.Sprintf("targets %q and %q both map to link server %q", prev, t.Name, server))
			} else {
				servers[server] = t.Name
			}
		}
		problems = append(problems, checkIAM("target "+t.Name, t.Connection)...)
		if t.Name != "" && t.Name == cfg.Source.Name {
			problems = append(problems, fmt.Sprintf("target %q has the same name as the source", t.Name))
		}
		if t.Connection.Host == "" && t.Secret == "" {
			problems = append(problems, fmt.Sprintf("target %q needs either secret or connection.host", t.Name))
		}
	}
	if cfg.Source.Connection.Host == "" && cfg.Source.Secret == "" {
		problems = append(problems, "source needs either secret or connection.host")
	}
	problems = append(problems, checkIAM("source", cfg.Source.Connection)...)

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return errors.Mark(
		errors.WithHint(
			errors.Newf("invalid config:\n  - %s", strings.Join(problems, "\n  - ")),
			"see pgroute.example.yaml for the expected layout"),
		engine.ErrConfiguration)
}

// checkIAM rejects sslmodes that would send an IAM token over an unencrypted session.
func checkIAM(what string, c Connection) []string {
	if !c.IAMAuth {
		return nil
	}
	switch c.SSLMode {
	case "disable", "allow", "prefer":
		return []string{fmt.Sprintf("%s: iam_auth needs sslmode require or stronger, got %s", what, c.SSLMode)}
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", field, fe.Param(), fe.Value())
	case "unique":
		return fmt.Sprintf("%s must have unique %s values", field, strings.ToLower(fe.Param()))
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}
