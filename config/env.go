package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/viper"
)

// loadFromEnv overlays environment variables onto cfg
func loadFromEnv(cfg *Config) error {
	v := viper.New()
	if err := bindEnv(v, reflect.TypeOf(*cfg), ""); err != nil {
		return err
	}
	return v.Unmarshal(cfg)
}

// loadFromFileAndEnv overlays a JSON file, then environment variables, onto cfg
func loadFromFileAndEnv(cfg *Config, path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	if err := bindEnv(v, reflect.TypeOf(*cfg), ""); err != nil {
		return err
	}
	return v.Unmarshal(cfg)
}

// bindEnv walks the struct type and binds each field's env tag to its
// dotted mapstructure key.
func bindEnv(v *viper.Viper, typ reflect.Type, prefix string) error {
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		name := strings.Split(field.Tag.Get("mapstructure"), ",")[0]
		if name == "" || name == "-" {
			continue
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}

		// Recurse into nested structs to honor their env tags
		if field.Type.Kind() == reflect.Struct {
			if err := bindEnv(v, field.Type, key); err != nil {
				return err
			}
			continue
		}

		envTag := field.Tag.Get("env")
		if envTag == "" {
			continue
		}
		if err := v.BindEnv(key, envTag); err != nil {
			return fmt.Errorf("failed to bind %s to %s: %w", key, envTag, err)
		}
	}
	return nil
}
