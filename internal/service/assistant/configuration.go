package assistant

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/go-viper/mapstructure/v2"
)

const (
	DefaultModelName   = "gpt-4-turbo-preview"
	DefaultTemperature = 0.7

	DefaultSystemMessage = "You are a helpful AI assistant with access to a user database.\n" +
		"The database contains user information including firstname, surname, and email address.\n" +
		"When asked about user information, provide the information in a clear format."
)

// Configuration holds the per-invocation tunables of the chat node.
// Temperature is passed through unchecked; the provider decides what is valid.
type Configuration struct {
	MyConfigurableParam string  `mapstructure:"my_configurable_param" json:"my_configurable_param"`
	ModelName           string  `mapstructure:"model_name" json:"model_name"`
	Temperature         float64 `mapstructure:"temperature" json:"temperature"`
	SystemMessage       string  `mapstructure:"system_message" json:"system_message"`
}

// recognized overlay keys, in decode order
var configurableKeys = []string{"my_configurable_param", "model_name", "temperature", "system_message"}

func DefaultConfiguration() Configuration {
	return Configuration{
		MyConfigurableParam: "changeme",
		ModelName:           DefaultModelName,
		Temperature:         DefaultTemperature,
		SystemMessage:       DefaultSystemMessage,
	}
}

// FromConfigurable overlays the recognized keys of configurable onto the
// defaults. Unknown keys and undecodable values are ignored.
func FromConfigurable(configurable map[string]any) Configuration {
	cfg, _ := ResolveConfigurable(configurable)
	return cfg
}

// ResolveConfigurable is FromConfigurable that also reports which recognized
// keys carried values it could not decode. The returned configuration is
// usable either way; failed keys keep their defaults.
func ResolveConfigurable(configurable map[string]any) (Configuration, error) {
	cfg := DefaultConfiguration()
	var errs []error
	for _, key := range configurableKeys {
		val, ok := configurable[key]
		if !ok {
			continue
		}
		next := cfg
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &next,
		})
		if err != nil {
			return cfg, fmt.Errorf("configurable decoder: %w", err)
		}
		if err := decoder.Decode(map[string]any{key: val}); err != nil {
			errs = append(errs, fmt.Errorf("configurable %s: %w", key, err))
			continue
		}
		cfg = next
	}
	return cfg, errors.Join(errs...)
}

// MergeConfigurable layers overlay on top of base without touching either.
func MergeConfigurable(base, overlay map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(overlay))
	maps.Copy(merged, base)
	maps.Copy(merged, overlay)
	return merged
}

type configurableContextKey struct{}

// WithConfigurable attaches an invocation's configuration overlay to ctx.
func WithConfigurable(ctx context.Context, configurable map[string]any) context.Context {
	if len(configurable) == 0 {
		return ctx
	}
	return context.WithValue(ctx, configurableContextKey{}, maps.Clone(configurable))
}

// ConfigurableFromContext returns the overlay attached by WithConfigurable, if any.
func ConfigurableFromContext(ctx context.Context) map[string]any {
	val := ctx.Value(configurableContextKey{})
	if val == nil {
		return nil
	}
	configurable, _ := val.(map[string]any)
	return configurable
}
