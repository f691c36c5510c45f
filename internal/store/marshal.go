package store

import (
	"fmt"
	"strconv"

	"github.com/roach88/issai/internal/entity"
)

// marshalObject converts an Object to canonical JSON TEXT for storage.
// A nil object is stored as "{}".
func marshalObject(obj entity.Object) (string, error) {
	if obj == nil {
		return "{}", nil
	}
	data, err := entity.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal object: %w", err)
	}
	return string(data), nil
}

// unmarshalObject parses canonical JSON TEXT into an Object.
// Uses entity.UnmarshalValue so large integers keep full precision.
func unmarshalObject(data string) (entity.Object, error) {
	if data == "" || data == "{}" {
		return entity.Object{}, nil
	}
	v, err := entity.UnmarshalValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal object: %w", err)
	}
	obj, ok := v.(entity.Object)
	if !ok {
		return nil, fmt.Errorf("unmarshal object: expected object, got %T", v)
	}
	return obj, nil
}

// parseID converts a store id to its row id. Ids this store never issued
// are reported as not found.
func parseID(kind entity.Kind, id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s %q: %w", kind, id, entity.ErrNotFound)
	}
	return n, nil
}

func formatID(n int64) string {
	return strconv.FormatInt(n, 10)
}
