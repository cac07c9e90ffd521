package config

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const EnvPrefix = "KTAIL_"

// envKeys maps environment variables onto configuration keys. Variables with
// the prefix that are not listed here (KTAIL_LOG_LEVEL and friends) are left
// alone.
var envKeys = map[string]string{
	"KTAIL_BOOTSTRAP_SERVERS":       "bootstrapServers",
	"KTAIL_GROUP_ID":                "groupId",
	"KTAIL_TOPICS":                  "topics",
	"KTAIL_DECODER":                 "decoder",
	"KTAIL_FORMAT":                  "format",
	"KTAIL_DRIVER":                  "driver",
	"KTAIL_VERSION":                 "version",
	"KTAIL_CLIENT_ID":               "clientId",
	"KTAIL_TLS":                     "tls",
	"KTAIL_SASL_USER":               "sasl.user",
	"KTAIL_SASL_PASSWORD":           "sasl.password",
	"KTAIL_BLOCKING_POOL_SIZE":      "blockingPoolSize",
	"KTAIL_TUNNEL_HOST":             "tunnel.host",
	"KTAIL_TUNNEL_PORT":             "tunnel.port",
	"KTAIL_TUNNEL_USER":             "tunnel.user",
	"KTAIL_TUNNEL_KNOWN_HOSTS_FILE": "tunnel.knownHostsFile",
	"KTAIL_TUNNEL_TIMEOUT":          "tunnel.timeout",
	"KTAIL_TUNNEL_PASSWORD":         "tunnel.auth.password",
	"KTAIL_TUNNEL_IDENTITY":         "tunnel.auth.identity",
	"KTAIL_TUNNEL_PASSPHRASE":       "tunnel.auth.passphrase",
}

func envKey(name string) string { return envKeys[name] }

// Load reads a YAML (or JSON) file, overlays KTAIL_* environment variables and
// validates the result. An empty path loads from the environment only.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("%w: load %s: %w", ErrInvalid, path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("%w: environment: %w", ErrInvalid, err)
	}
	return decode(k)
}

// Parse decodes a host-supplied document without any environment overlay.
func Parse(doc []byte) (Config, error) {
	if len(doc) == 0 {
		return Config{}, fmt.Errorf("%w: empty document", ErrInvalid)
	}
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(doc), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return decode(k)
}

func decode(k *koanf.Koanf) (Config, error) {
	var cfg Config
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.TextUnmarshallerHookFunc(),
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           &cfg,
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
