package record

// Record is an untyped name -> value mapping handed to sinks.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String returns the value under key if it is a string, or "" otherwise.
func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Event wraps a record with the routing metadata sinks need
// (postgres columns, kafka keys).
type Event struct {
	Height      uint64 `json:"height"`
	Granularity string `json:"granularity"`
	// Key identifies the record: tx hash, block hash or deployee address.
	Key  string `json:"key"`
	Data Record `json:"data"`
}
