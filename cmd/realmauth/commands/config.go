package commands

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v3"

	"github.com/florianilch/realmauth/internal/app"
)

const (
	// envPrefix marks realmauth variables; "__" separates nesting levels
	// (REALMAUTH_AUTH__CLIENT_ID → auth.client_id).
	envPrefix = "REALMAUTH_"

	// envConfigPath names the config file when --config is not given.
	envConfigPath = envPrefix + "CONFIG"
)

// configLayer is one source of configuration values. Later layers override
// earlier ones key by key.
type configLayer struct {
	name     string
	provider koanf.Provider
	parser   koanf.Parser
}

// loadConfig merges the config file, REALMAUTH_* variables and the global flags
// that were set explicitly, in that order, then fills defaults and validates.
func loadConfig(configPath string, cmd *cli.Command, environ func() []string) (*app.Config, error) {
	k := koanf.New(".")

	for _, layer := range configLayers(configPath, cmd, environ) {
		if err := k.Load(layer.provider, layer.parser); err != nil {
			return nil, fmt.Errorf("loading %s: %w", layer.name, err)
		}
	}

	cfg := &app.Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func configLayers(configPath string, cmd *cli.Command, environ func() []string) []configLayer {
	var layers []configLayer

	if configPath == "" {
		configPath = lookupEnv(environ, envConfigPath)
	}
	if configPath != "" {
		layers = append(layers, configLayer{
			name:     "config file " + configPath,
			provider: file.Provider(configPath),
			parser:   toml.Parser(),
		})
	}

	layers = append(layers, configLayer{
		name: "environment",
		provider: env.Provider(".", env.Opt{
			Prefix:        envPrefix,
			TransformFunc: envKey,
			EnvironFunc:   environ,
		}),
	})

	if cmd != nil {
		layers = append(layers, configLayer{
			name:     "flags",
			provider: confmap.Provider(flagValues(cmd), "."),
		})
	}
	return layers
}

// envKey maps REALMAUTH_AUTH__CLIENT_ID to auth.client_id. The config path
// variable is not a config key and is dropped.
func envKey(key, value string) (string, any) {
	if key == envConfigPath {
		return "", nil
	}
	return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(key, envPrefix), "__", ".")), value
}

func lookupEnv(environ func() []string, name string) string {
	if environ == nil {
		return ""
	}
	for _, kv := range environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k == name {
			return v
		}
	}
	return ""
}

// flagValues collects the explicitly set global flags under their config keys.
// Unset flags are skipped so their defaults never shadow file or env values,
// and subcommand flags (--json, --refresh, ...) are not config.
func flagValues(cmd *cli.Command) map[string]any {
	values := make(map[string]any)
	for _, flag := range cmd.Root().Flags {
		name := flag.Names()[0]
		if name == "config" || !cmd.IsSet(name) {
			continue
		}
		if value := cmd.Value(name); value != nil {
			values[flagKey(name)] = value
		}
	}
	return values
}

// flagKey maps --auth--client-id to auth.client_id and --log-level to log_level.
func flagKey(name string) string {
	return strings.ReplaceAll(strings.ReplaceAll(name, "--", "."), "-", "_")
}
