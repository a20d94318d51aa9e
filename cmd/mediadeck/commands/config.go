package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v3"

	"github.com/florianilch/mediadeck/internal/app"
	"github.com/florianilch/mediadeck/internal/tokenstore"
)

// envPrefix is stripped from environment variables during config loading (e.g., MEDIADECK_BACKEND__BASE_URL → backend.base_url)
const envPrefix = "MEDIADECK_"

// Token pair read by `login --from-env`. The config layer sees these as
// access_token and refresh_token and leaves them to tokenstore.EnvSource.
const (
	envAccessToken  = envPrefix + "ACCESS_TOKEN"
	envRefreshToken = envPrefix + "REFRESH_TOKEN"
)

// defaultAccept is sent by `get` unless --accept is given.
const defaultAccept = "application/json"

// commandInput is what the session commands read besides app.Config. It goes
// through the same layers, so MEDIADECK_USERNAME works like --username.
type commandInput struct {
	Username string `json:"username"`
	FromEnv  bool   `json:"from_env"`
	Accept   string `json:"accept"`

	// Tokens reads the pair for --from-env from the environment the config was loaded from.
	Tokens *tokenstore.EnvSource `json:"-"`
}

// loadConfig loads application configuration from various sources with precedence:
// config file → environment variables → CLI flags → defaults
func loadConfig(configPath string, cmd *cli.Command, environFunc func() []string) (*app.Config, error) {
	k, err := loadLayers(configPath, cmd, environFunc)
	if err != nil {
		return nil, err
	}
	return decodeConfig(k)
}

// loadCommand loads the config together with the session command's own input.
func loadCommand(configPath string, cmd *cli.Command, environFunc func() []string) (*app.Config, *commandInput, error) {
	k, err := loadLayers(configPath, cmd, environFunc)
	if err != nil {
		return nil, nil, err
	}

	config, err := decodeConfig(k)
	if err != nil {
		return nil, nil, err
	}

	input := &commandInput{}
	if err := k.UnmarshalWithConf("", input, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling command input: %w", err)
	}
	if input.FromEnv && input.Username != "" {
		return nil, nil, errors.New("--username and --from-env are mutually exclusive")
	}
	if input.Accept == "" {
		input.Accept = defaultAccept
	}

	input.Tokens, err = tokenstore.NewEnvSource(envAccessToken, envRefreshToken,
		tokenstore.WithLookup(environLookup(environFunc)))
	if err != nil {
		return nil, nil, err
	}

	return config, input, nil
}

// loadLayers stacks config file, environment and set CLI flags, later layers winning.
func loadLayers(configPath string, cmd *cli.Command, environFunc func() []string) (*koanf.Koanf, error) {
	k := koanf.New(".")

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			stripped := strings.TrimPrefix(key, envPrefix)
			nested := strings.ToLower(strings.ReplaceAll(stripped, "__", "."))
			return nested, value
		},
		EnvironFunc: environFunc,
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	if cmd != nil {
		flagValues := extractAndTransformFlags(cmd)
		if err := k.Load(confmap.Provider(flagValues, "."), nil); err != nil {
			return nil, fmt.Errorf("loading CLI flags: %w", err)
		}
	}

	return k, nil
}

func decodeConfig(k *koanf.Koanf) (*app.Config, error) {
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

// environLookup indexes one environ snapshot for os.LookupEnv-style reads.
func environLookup(environFunc func() []string) func(string) (string, bool) {
	vars := make(map[string]string)
	for _, kv := range environFunc() {
		if key, value, ok := strings.Cut(kv, "="); ok {
			vars[key] = value
		}
	}
	return func(key string) (string, bool) {
		value, ok := vars[key]
		return value, ok
	}
}

// extractAndTransformFlags transforms CLI flag names to match config structure.
// Includes parent flags. Examples: --backend--base-url → backend.base_url, --from-env → from_env
func extractAndTransformFlags(cmd *cli.Command) map[string]any {
	values := make(map[string]any)

	// FlagNames() includes flags from parent commands (via lineage)
	for _, name := range cmd.FlagNames() {
		// Skip unset flags to preserve precedence from earlier config sources
		if !cmd.IsSet(name) {
			continue
		}

		if value := cmd.Value(name); value != nil {
			key := strings.ReplaceAll(name, "--", ".")
			key = strings.ReplaceAll(key, "-", "_")
			values[key] = value
		}
	}

	return values
}
