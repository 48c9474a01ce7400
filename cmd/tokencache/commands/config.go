package commands

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v3"

	"github.com/florianilch/tokencache/internal/app"
)

// envPrefix is stripped from environment variables during config loading (e.g., TOKENCACHE_STORAGE__CACHE_DIR → storage.cache_dir)
const envPrefix = "TOKENCACHE_"

// listKeys hold comma or space separated lists when set from the environment.
var listKeys = map[string]bool{
	"oauth.scopes": true,
}

// flagSources lists everything loadConfig layers on top of the config file.
type flagSources interface {
	FlagNames() []string
	IsSet(name string) bool
	Value(name string) any
}

// Compile-time check to ensure *cli.Command can feed loadConfig
var _ flagSources = (*cli.Command)(nil)

type configLayer struct {
	name     string
	provider koanf.Provider
	parser   koanf.Parser
}

// loadConfig loads application configuration from various sources with precedence:
// config file → environment variables → CLI flags → defaults
func loadConfig(configPath string, cmd flagSources, environFunc func() []string) (*app.Config, error) {
	k := koanf.New(".")
	for _, layer := range configLayers(configPath, cmd, environFunc) {
		if err := k.Load(layer.provider, layer.parser); err != nil {
			return nil, fmt.Errorf("loading %s: %w", layer.name, err)
		}
	}

	config := &app.Config{}
	if err := k.UnmarshalWithConf("", config, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := config.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

func configLayers(configPath string, cmd flagSources, environFunc func() []string) []configLayer {
	var layers []configLayer
	if configPath != "" {
		layers = append(layers, configLayer{"config file", file.Provider(configPath), toml.Parser()})
	}

	layers = append(layers, configLayer{"environment variables", env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(name, value string) (string, any) {
			key := envKey(name)
			return key, keyValue(key, value)
		},
		EnvironFunc: environFunc,
	}), nil})

	if cmd != nil {
		layers = append(layers, configLayer{"CLI flags", confmap.Provider(flagValues(cmd), "."), nil})
	}
	return layers
}

// envKey maps TOKENCACHE_STORAGE__CACHE_DIR to storage.cache_dir.
func envKey(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(name, envPrefix), "__", "."))
}

// flagKey maps --storage--cache-dir to storage.cache_dir.
func flagKey(name string) string {
	return strings.ReplaceAll(strings.ReplaceAll(name, "--", "."), "-", "_")
}

// keyValue splits string values of list keys; everything else passes through.
func keyValue(key string, value string) any {
	if !listKeys[key] {
		return value
	}
	return strings.FieldsFunc(value, func(r rune) bool { return r == ',' || unicode.IsSpace(r) })
}

// flagValues collects explicitly set flags, including parent flags, keyed like
// the config file. Unset flags are skipped so earlier sources keep precedence.
func flagValues(cmd flagSources) map[string]any {
	values := make(map[string]any)
	for _, name := range cmd.FlagNames() {
		if name == "config" || !cmd.IsSet(name) {
			continue
		}
		value := cmd.Value(name)
		if value == nil {
			continue
		}
		key := flagKey(name)
		if s, ok := value.(string); ok {
			values[key] = keyValue(key, s)
			continue
		}
		values[key] = value
	}
	return values
}
