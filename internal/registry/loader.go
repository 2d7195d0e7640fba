package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"strings"
)

// RowLister is the subset of Store the Loader reads from.
type RowLister interface {
	ListByUser(ctx context.Context, userID string) ([]Row, error)
}

// Loader turns a user's stored tool rows into Descriptors.
type Loader struct {
	rows RowLister
}

// NewLoader creates a Loader reading from rows.
func NewLoader(rows RowLister) *Loader {
	return &Loader{rows: rows}
}

// Load fetches the user's tool rows and returns a sequence of valid
// descriptors. Rows are normalized as the sequence is consumed and malformed
// rows are skipped. The sequence can be ranged over once; later iterations
// yield nothing.
func (l *Loader) Load(ctx context.Context, userID string) (iter.Seq[Descriptor], error) {
	rows, err := l.rows.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading tool configs: %w", err)
	}

	consumed := false
	return func(yield func(Descriptor) bool) {
		if consumed {
			return
		}
		consumed = true

		for _, row := range rows {
			d, reason := normalize(row)
			if reason == reasonBadJSON {
				slog.Warn("skipping tool config", "user_id", userID, "index_id", row.IndexID, "reason", reason)
				continue
			}
			if reason != "" {
				slog.Debug("skipping tool config", "user_id", userID, "index_id", row.IndexID, "reason", reason)
				continue
			}
			if !yield(d) {
				return
			}
		}
	}, nil
}

// reasonBadJSON marks a legacy row whose string does not decode. It is
// logged at warn level, other skips at debug.
const reasonBadJSON = "config string is not valid JSON"

// normalize validates one stored row. A non-empty reason means the row must
// be skipped.
func normalize(row Row) (Descriptor, string) {
	raw := bytes.TrimSpace(row.Config)

	// Legacy rows store the object serialized inside a JSON string.
	if len(raw) > 0 && raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return Descriptor{}, reasonBadJSON
		}
		raw = bytes.TrimSpace([]byte(inner))
		if !json.Valid(raw) {
			return Descriptor{}, reasonBadJSON
		}
	}

	if len(raw) == 0 || raw[0] != '{' {
		return Descriptor{}, "config is not an object"
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Descriptor{}, "config is not an object"
	}

	name, ok := nonEmptyString(fields["tool_name"])
	if !ok {
		return Descriptor{}, "missing tool_name"
	}
	desc, ok := nonEmptyString(fields["tool_description"])
	if !ok {
		return Descriptor{}, "missing tool_description"
	}

	d := Descriptor{Name: name, Description: desc, IndexID: row.IndexID}
	if preset := fields["preset_retrieval_parameters"]; !isEmptyJSON(preset) {
		d.Preset = preset
	}
	return d, ""
}

// nonEmptyString decodes raw as a string and trims it. Non-strings, null and
// blank strings report false.
func nonEmptyString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// isEmptyJSON reports whether raw is absent, null, "", {} or [].
func isEmptyJSON(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return true
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return true
	}
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	}
	return false
}
