package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-claimbot/core"
)

const EnvPrefix = "CLAIMBOT_"

// LoadEnvFiles loads .env style files into the process environment.
// Missing files are skipped; variables already set are kept.
func LoadEnvFiles(paths ...string) error {
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("bootstrap: load env file %s: %w", path, err)
		}
	}
	return nil
}

// YAMLFileLoader reads the configuration file layer. An empty path yields
// an empty layer.
type YAMLFileLoader struct {
	Path string
}

func (l YAMLFileLoader) LoadRaw(context.Context) (map[string]any, error) {
	path := strings.TrimSpace(l.Path)
	if path == "" {
		return map[string]any{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: read config %s: %w", path, err)
	}
	return DecodeYAML(raw)
}

// DecodeYAML parses a configuration document. Duration strings such as
// "90s" are converted so the decoder sees time.Duration values.
func DecodeYAML(raw []byte) (map[string]any, error) {
	values := map[string]any{}
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("bootstrap: parse config: %w", err)
	}
	return normalizeValues(values), nil
}

func normalizeValues(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for key, value := range values {
		switch typed := value.(type) {
		case map[string]any:
			out[key] = normalizeValues(typed)
		case string:
			if duration, err := time.ParseDuration(typed); err == nil && strings.IndexFunc(typed, isUnit) >= 0 {
				out[key] = duration
				continue
			}
			out[key] = typed
		default:
			out[key] = typed
		}
	}
	return out
}

func isUnit(r rune) bool {
	return r == 's' || r == 'm' || r == 'h'
}

// EnvOverrides builds the runtime layer from CLAIMBOT_* variables. Only the
// deployment-specific values are read from the environment.
func EnvOverrides(lookup func(string) (string, bool)) core.Config {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(name string) string {
		value, _ := lookup(EnvPrefix + name)
		return strings.TrimSpace(value)
	}
	var cfg core.Config
	cfg.Webhook.PublicURL = get("PUBLIC_URL")
	cfg.Webhook.AuthToken = get("AUTH_TOKEN")
	cfg.Webhook.AuthTokenParameter = get("AUTH_TOKEN_PARAMETER")
	cfg.Collaborators.VerificationURL = get("VERIFICATION_URL")
	cfg.Collaborators.VerificationToken = get("VERIFICATION_TOKEN")
	cfg.Collaborators.RoutingURL = get("ROUTING_URL")
	cfg.Storage.Driver = get("STORAGE_DRIVER")
	cfg.Storage.DSN = get("STORAGE_DSN")
	cfg.KV.Backend = get("KV_BACKEND")
	cfg.KV.Table = get("KV_TABLE")
	cfg.KV.Region = get("KV_REGION")
	cfg.Server.Addr = get("ADDR")
	return cfg
}

// Flags holds the process flags. Overrides only matter for flags that were
// set on the command line; see Apply.
type Flags struct {
	ConfigFile string
	EnvFiles   []string
	LogLevel   string
	Overrides  core.Config

	set *pflag.FlagSet
}

func NewFlagSet(name string) (*pflag.FlagSet, *Flags) {
	flags := &Flags{}
	set := pflag.NewFlagSet(name, pflag.ContinueOnError)
	set.StringVarP(&flags.ConfigFile, "config", "c", "", "path to the YAML configuration file")
	set.StringSliceVar(&flags.EnvFiles, "env-file", []string{".env"}, "env files loaded before configuration")
	set.StringVar(&flags.LogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	set.StringVar(&flags.Overrides.Server.Addr, "addr", "", "listen address")
	set.StringVar(&flags.Overrides.Webhook.PublicURL, "public-url", "", "public webhook URL used for signature checks")
	set.StringVar(&flags.Overrides.Storage.Driver, "storage", "", "storage driver (memory, postgres, sqlite)")
	set.StringVar(&flags.Overrides.Storage.DSN, "dsn", "", "storage connection string")
	set.StringVar(&flags.Overrides.KV.Backend, "kv", "", "key-value backend (memory, dynamodb)")
	set.StringVar(&flags.Overrides.KV.Table, "kv-table", "", "DynamoDB table for the key-value backend")
	set.StringVar(&flags.Overrides.Outbox.Publisher, "publisher", "", "outbox publisher (log, queue)")
	set.BoolVar(&flags.Overrides.Webhook.SkipSignature, "skip-signature", false, "disable signature checks (local only)")
	set.BoolVar(&flags.Overrides.Session.LeaseEnabled, "session-lease", false, "serialize messages per sender")
	flags.set = set
	return set, flags
}

// Apply copies every flag set on the command line over base.
func (f *Flags) Apply(base core.Config) core.Config {
	if f == nil || f.set == nil {
		return base
	}
	out := base
	changed := func(name string) bool { return f.set.Changed(name) }
	if changed("addr") {
		out.Server.Addr = f.Overrides.Server.Addr
	}
	if changed("public-url") {
		out.Webhook.PublicURL = f.Overrides.Webhook.PublicURL
	}
	if changed("storage") {
		out.Storage.Driver = f.Overrides.Storage.Driver
	}
	if changed("dsn") {
		out.Storage.DSN = f.Overrides.Storage.DSN
	}
	if changed("kv") {
		out.KV.Backend = f.Overrides.KV.Backend
	}
	if changed("kv-table") {
		out.KV.Table = f.Overrides.KV.Table
	}
	if changed("publisher") {
		out.Outbox.Publisher = f.Overrides.Outbox.Publisher
	}
	if changed("skip-signature") {
		out.Webhook.SkipSignature = f.Overrides.Webhook.SkipSignature
	}
	if changed("session-lease") {
		out.Session.LeaseEnabled = f.Overrides.Session.LeaseEnabled
	}
	return out
}

// ConfigPath returns the flag value or CLAIMBOT_CONFIG.
func (f *Flags) ConfigPath() string {
	if f != nil && strings.TrimSpace(f.ConfigFile) != "" {
		return strings.TrimSpace(f.ConfigFile)
	}
	return strings.TrimSpace(os.Getenv(EnvPrefix + "CONFIG"))
}
