package utils

import (
	"github.com/bytedance/sonic"

	"github.com/saiset-co/sai-ratecache/types"
)

// codec sorts map keys so a value always persists as the same string, and
// leaves HTML unescaped because payloads are never embedded in pages.
var codec = sonic.Config{
	SortMapKeys:      true,
	CompactMarshaler: true,
	ValidateString:   true,
}.Froze()

func Marshal(data interface{}) ([]byte, error) {
	return codec.Marshal(data)
}

// MarshalString encodes data for string-valued stores.
func MarshalString(data interface{}) (string, error) {
	return codec.MarshalToString(data)
}

func Unmarshal[T any](data []byte, target *T) error {
	return codec.Unmarshal(data, target)
}

func UnmarshalString[T any](data string, target *T) error {
	return codec.UnmarshalFromString(data, target)
}

// UnmarshalConfig decodes a component's free-form "config" block.
func UnmarshalConfig[T any](config interface{}, target *T) error {
	if config == nil {
		return types.ErrConfigIsNil
	}

	return Convert(config, target)
}

// Convert copies value into target, re-encoding through JSON when the
// dynamic type differs. Values read back from durable storage arrive as
// generic maps and slices; Convert turns them into the caller's type.
func Convert[T any](value interface{}, target *T) error {
	switch typed := value.(type) {
	case T:
		*target = typed
		return nil
	case *T:
		if typed != nil {
			*target = *typed
			return nil
		}
	}

	encoded, err := codec.Marshal(value)
	if err != nil {
		return err
	}

	return codec.Unmarshal(encoded, target)
}
