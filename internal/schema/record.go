package schema

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Bookkeeping keys stored alongside the domain payload.
const (
	FieldID        = "id"
	FieldMongoID   = "_id"
	FieldOffline   = "_offline"
	FieldDeleted   = "_deleted"
	FieldTimestamp = "_timestamp"
	FieldUpdatedAt = "updatedAt"
	FieldCreatedAt = "createdAt"
	FieldStatus    = "status"
)

// TempIDPrefix marks ids generated locally while offline.
const TempIDPrefix = "temp_"

// Record is a generic persisted entity: a task, the user profile, or any
// other JSON object returned by the remote API.
type Record map[string]any

// ID returns the record identity. Mongo-style "_id" is accepted when "id"
// is absent.
func (r Record) ID() string {
	if v, ok := r[FieldID].(string); ok && v != "" {
		return v
	}
	if v, ok := r[FieldMongoID].(string); ok {
		return v
	}
	return ""
}

// SetID sets the canonical id key.
func (r Record) SetID(id string) {
	r[FieldID] = id
}

// Offline reports whether the record was written without server confirmation.
func (r Record) Offline() bool {
	v, _ := r[FieldOffline].(bool)
	return v
}

// Deleted reports whether the record is a tombstone.
func (r Record) Deleted() bool {
	v, _ := r[FieldDeleted].(bool)
	return v
}

// String returns a string field or "".
func (r Record) String(key string) string {
	v, _ := r[key].(string)
	return v
}

// Time parses an RFC3339 timestamp field. The zero time is returned when the
// field is missing or malformed.
func (r Record) Time(key string) time.Time {
	switch v := r[key].(type) {
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}
		}
		return t
	case time.Time:
		return v
	default:
		return time.Time{}
	}
}

// Timestamp returns the last local write time.
func (r Record) Timestamp() time.Time {
	return r.Time(FieldTimestamp)
}

// Clone returns a shallow copy. Nested values are shared.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge returns a copy of r with every key of fields written over it.
func (r Record) Merge(fields Record) Record {
	out := r.Clone()
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// Payload returns a copy without bookkeeping keys, ready to be sent to the
// server. Temporary ids are dropped so the server assigns its own.
func (r Record) Payload() Record {
	out := r.Clone()
	delete(out, FieldOffline)
	delete(out, FieldDeleted)
	delete(out, FieldTimestamp)
	if IsTempID(out.ID()) {
		delete(out, FieldID)
	}
	return out
}

// RecordFromJSON decodes a JSON object.
func RecordFromJSON(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	if r == nil {
		r = Record{}
	}
	return r, nil
}

// RecordsFromJSON decodes a JSON array of objects. A single object, or an
// object wrapping the array under "tasks" or "data", is accepted as well.
func RecordsFromJSON(data []byte) ([]Record, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var list []Record
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("failed to decode record list: %w", err)
		}
		if list == nil {
			list = []Record{}
		}
		return list, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode record list: %w", err)
	}
	for _, key := range []string{"tasks", "data"} {
		if raw, ok := envelope[key]; ok {
			return RecordsFromJSON(raw)
		}
	}

	r, err := RecordFromJSON(data)
	if err != nil {
		return nil, err
	}
	return []Record{r}, nil
}

const tempIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewTempID returns a temporary id of the form temp_<unix-millis>_<random>.
func NewTempID(now time.Time) string {
	var b strings.Builder
	max := big.NewInt(int64(len(tempIDAlphabet)))
	for i := 0; i < 9; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			n = big.NewInt((now.UnixNano() + int64(i)) & 31)
		}
		b.WriteByte(tempIDAlphabet[n.Int64()])
	}
	return fmt.Sprintf("%s%d_%s", TempIDPrefix, now.UnixMilli(), b.String())
}

// IsTempID reports whether id was generated locally.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}
