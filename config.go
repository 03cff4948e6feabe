package objectstore

import (
	"github.com/mitchellh/mapstructure"
)

// DecodeParameters decodes a construction parameters map into a backend's
// typed parameters struct. Keys are matched against the struct's
// mapstructure tags; duration fields accept strings like "500ms". Any
// unrecognized key fails with InvalidConfig, as does a value that cannot
// be coerced into its field type.
func DecodeParameters(store string, parameters map[string]interface{}, into interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           into,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return &Error{Kind: InvalidConfig, Store: store, Detail: err}
	}
	if err := decoder.Decode(parameters); err != nil {
		return &Error{Kind: InvalidConfig, Store: store, Detail: err}
	}
	return nil
}
