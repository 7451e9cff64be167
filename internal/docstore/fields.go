package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Fields is a partial document update keyed by top-level field name. Values
// are either plain JSON-encodable values or a Transform.
type Fields map[string]any

// Transform computes a field's new value from its stored value at commit.
type Transform interface {
	apply(current json.RawMessage, now time.Time) (json.RawMessage, error)
}

type incrementTransform struct {
	delta decimal.Decimal
}

// Increment adds delta to a numeric field; a missing field counts as zero.
// Increments commute, so concurrent writers never need to read first.
func Increment(delta decimal.Decimal) Transform {
	return incrementTransform{delta: delta}
}

func (t incrementTransform) apply(current json.RawMessage, _ time.Time) (json.RawMessage, error) {
	base := decimal.Zero
	if len(current) > 0 && string(current) != "null" {
		if err := base.UnmarshalJSON(current); err != nil {
			return nil, fmt.Errorf("increment non-numeric field: %w", err)
		}
	}
	return json.Marshal(base.Add(t.delta))
}

type serverTimestamp struct{}

// ServerTimestamp stamps the field with the store's clock at commit.
func ServerTimestamp() Transform {
	return serverTimestamp{}
}

func (serverTimestamp) apply(_ json.RawMessage, now time.Time) (json.RawMessage, error) {
	return json.Marshal(now.UTC())
}

// IncrementDelta exposes the delta of an increment transform to store
// implementations that push the arithmetic into their query language.
func IncrementDelta(t Transform) (decimal.Decimal, bool) {
	inc, ok := t.(incrementTransform)
	return inc.delta, ok
}

// ApplyUpdate merges fields into doc, evaluating transforms against now.
func ApplyUpdate(doc json.RawMessage, fields Fields, now time.Time) (json.RawMessage, error) {
	body := map[string]json.RawMessage{}
	if len(doc) > 0 {
		if err := json.Unmarshal(doc, &body); err != nil {
			return nil, fmt.Errorf("docstore: decode body: %w", err)
		}
	}
	for name, value := range fields {
		if strings.TrimSpace(name) == "" {
			return nil, errors.New("docstore: empty field name")
		}
		if t, ok := value.(Transform); ok {
			next, err := t.apply(body[name], now)
			if err != nil {
				return nil, fmt.Errorf("docstore: field %s: %w", name, err)
			}
			body[name] = next
			continue
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("docstore: field %s: %w", name, err)
		}
		body[name] = encoded
	}
	return json.Marshal(body)
}

// CheckPreconditions verifies every precondition against doc.
func CheckPreconditions(doc json.RawMessage, preconditions []Precondition) error {
	if len(preconditions) == 0 {
		return nil
	}
	ok, err := Matches(doc, preconditions)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPreconditionFailed
	}
	return nil
}

// Matches reports whether doc satisfies all equality filters.
func Matches(doc json.RawMessage, filters []Filter) (bool, error) {
	if len(filters) == 0 {
		return true, nil
	}
	body := map[string]json.RawMessage{}
	if err := json.Unmarshal(doc, &body); err != nil {
		return false, fmt.Errorf("docstore: decode body: %w", err)
	}
	for _, f := range filters {
		want, err := json.Marshal(f.Value)
		if err != nil {
			return false, fmt.Errorf("docstore: filter %s: %w", f.Field, err)
		}
		got, present := body[f.Field]
		if !present {
			got = json.RawMessage("null")
		}
		if !jsonEqual(got, want) {
			return false, nil
		}
	}
	return true, nil
}

func jsonEqual(a, b []byte) bool {
	var va, vb any
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return false
	}
	return reflect.DeepEqual(va, vb)
}

// ApplyQuery filters, orders and limits snapshots in memory.
func ApplyQuery(snaps []Snapshot, q Query) ([]Snapshot, error) {
	out := make([]Snapshot, 0, len(snaps))
	for _, s := range snaps {
		ok, err := Matches(s.Data, q.Where)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, s)
		}
	}
	if q.OrderBy != "" {
		keys := make([]json.RawMessage, len(out))
		for i := range out {
			keys[i] = sortKey(out[i], q.OrderBy)
		}
		idx := make([]int, len(out))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(i, j int) bool {
			c := compareJSON(keys[idx[i]], keys[idx[j]])
			if q.Desc {
				return c > 0
			}
			return c < 0
		})
		sorted := make([]Snapshot, len(out))
		for i, k := range idx {
			sorted[i] = out[k]
		}
		out = sorted
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func sortKey(s Snapshot, field string) json.RawMessage {
	if field == CreateTimeField {
		b, _ := json.Marshal(s.CreateTime.UTC())
		return b
	}
	body := map[string]json.RawMessage{}
	if err := json.Unmarshal(s.Data, &body); err != nil {
		return nil
	}
	return body[field]
}

// compareJSON orders timestamps chronologically, numbers numerically and
// everything else lexically. Missing values sort first.
func compareJSON(a, b json.RawMessage) int {
	if len(a) == 0 || len(b) == 0 {
		return len(a) - len(b)
	}
	var va, vb any
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return strings.Compare(string(a), string(b))
	}
	sa, aIsString := va.(string)
	sb, bIsString := vb.(string)
	if aIsString && bIsString {
		ta, errA := time.Parse(time.RFC3339Nano, sa)
		tb, errB := time.Parse(time.RFC3339Nano, sb)
		if errA == nil && errB == nil {
			return ta.Compare(tb)
		}
		da, errA := decimal.NewFromString(sa)
		db, errB := decimal.NewFromString(sb)
		if errA == nil && errB == nil {
			return da.Cmp(db)
		}
		return strings.Compare(sa, sb)
	}
	fa, aIsNum := va.(float64)
	fb, bIsNum := vb.(float64)
	if aIsNum && bIsNum {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(string(a), string(b))
}
