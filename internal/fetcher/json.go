package fetcher

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fieldmap/internal/resilience"
)

// DecodeJSONObject decodes a single JSON object from a reader.
func DecodeJSONObject[T any](r io.Reader) (*T, error) {
	var obj T
	if err := json.NewDecoder(r).Decode(&obj); err != nil {
		return nil, eris.Wrap(resilience.ErrFormatMismatch, "json: decode object: "+err.Error())
	}
	return &obj, nil
}

// DecodeList decodes a payload that is either a bare JSON array or an
// envelope object holding the array under one of keys. The first key present
// wins. An envelope with none of the keys decodes to an empty list.
func DecodeList[T any](raw json.RawMessage, keys ...string) ([]T, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var list []T
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, eris.Wrap(resilience.ErrFormatMismatch, "json: decode list: "+err.Error())
		}
		return list, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, eris.Wrap(resilience.ErrFormatMismatch, "json: decode envelope: "+err.Error())
	}
	for _, k := range keys {
		inner, ok := envelope[k]
		if !ok {
			continue
		}
		if bytes.HasPrefix(bytes.TrimSpace(inner), []byte("{")) {
			return nil, eris.Wrapf(resilience.ErrFormatMismatch, "json: %q is not a list", k)
		}
		return DecodeList[T](inner)
	}
	return nil, nil
}
