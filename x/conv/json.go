package conv

import "encoding/json"

// DecodeJSON converts a bus payload into dst. Payloads arrive either as raw
// JSON (bytes or string) or already decoded (maps from a JSON front end, or
// a struct); the latter are round-tripped through encoding/json.
func DecodeJSON[T any](src any, dst *T) error {
	switch v := src.(type) {
	case T:
		*dst = v
		return nil
	case *T:
		*dst = *v
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, dst)
	}
}
