package config

import (
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// freeformPrefixes are sections whose keys are user-defined.
var freeformPrefixes = []string{
	"policy.blocked.",
}

// Defaults returns the configuration produced by defaults alone.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	if cfg.Policy.Blocked == nil {
		cfg.Policy.Blocked = map[string]bool{}
	}
	return &cfg
}

// KnownKeys returns every fixed configuration key, sorted.
func KnownKeys() []string {
	v := viper.New()
	setDefaults(v)

	keys := append(v.AllKeys(),
		"storage.redis.password",
		"targets",
	)
	sort.Strings(keys)
	return keys
}

// UnknownKeys reads the config file at path and returns the keys that no
// part of Config consumes.
func UnknownKeys(path string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	known := make(map[string]bool)
	for _, key := range KnownKeys() {
		known[key] = true
	}

	unknown := []string{}
	for _, key := range v.AllKeys() {
		if known[key] || isFreeform(key) {
			continue
		}
		unknown = append(unknown, key)
	}
	sort.Strings(unknown)
	return unknown, nil
}

func isFreeform(key string) bool {
	for _, prefix := range freeformPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}
