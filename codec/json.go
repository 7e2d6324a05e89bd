package codec

import "encoding/json"

// JSON is the standard-library JSON codec. Its output is interchangeable with
// GoJSON; it exists for readers that want no extra dependency in the decode path.
type JSON struct{}

// Marshal encodes v.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes data into v.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns "json".
func (JSON) Name() string { return "json" }
