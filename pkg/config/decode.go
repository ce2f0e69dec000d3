package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Decode decodes a component's config value into a typed struct, honoring
// `mapstructure` field tags. Component init behaviors receive their config
// slice as nested maps; this is the supported way to turn one into a
// settings struct:
//
//	type PoolSettings struct {
//		Size    int    `mapstructure:"size"`
//		Driver  string `mapstructure:"driver"`
//	}
//
//	func initPool(tag string, value any) (any, error) {
//		var s PoolSettings
//		if err := config.Decode(value, &s); err != nil {
//			return nil, err
//		}
//		...
//	}
//
// Unknown fields in the value are an error, so config typos surface at
// init time.
func Decode(value any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      target,
		ErrorUnused: true,
	})
	if err != nil {
		return fmt.Errorf("building decoder: %w", err)
	}
	if err := decoder.Decode(value); err != nil {
		return fmt.Errorf("decoding config value: %w", err)
	}
	return nil
}
