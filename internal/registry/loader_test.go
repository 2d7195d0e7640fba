package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"testing"
)

type fakeRows struct {
	rows []Row
	err  error
}

func (f *fakeRows) ListByUser(ctx context.Context, userID string) ([]Row, error) {
	return f.rows, f.err
}

func row(indexID, config string) Row {
	return Row{IndexID: indexID, Config: json.RawMessage(config)}
}

func collect(t *testing.T, rows []Row) []Descriptor {
	t.Helper()
	seq, err := NewLoader(&fakeRows{rows: rows}).Load(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return slices.Collect(seq)
}

func TestLoad_Normalization(t *testing.T) {
	tests := []struct {
		name     string
		config   string
		wantName string
		wantDesc string
		wantKeep bool
	}{
		{"object", `{"tool_name":"search_docs","tool_description":"Search the docs"}`, "search_docs", "Search the docs", true},
		{"legacy string", `"{\"tool_name\":\"legacy\",\"tool_description\":\"Old row\"}"`, "legacy", "Old row", true},
		{"trimmed fields", `{"tool_name":"  spaced ","tool_description":" d "}`, "spaced", "d", true},
		{"array", `[{"tool_name":"a","tool_description":"b"}]`, "", "", false},
		{"number", `42`, "", "", false},
		{"null", `null`, "", "", false},
		{"string holding array", `"[1,2]"`, "", "", false},
		{"string holding garbage", `"not json"`, "", "", false},
		{"missing name", `{"tool_description":"d"}`, "", "", false},
		{"empty name", `{"tool_name":"","tool_description":"d"}`, "", "", false},
		{"blank name", `{"tool_name":"   ","tool_description":"d"}`, "", "", false},
		{"null name", `{"tool_name":null,"tool_description":"d"}`, "", "", false},
		{"numeric name", `{"tool_name":7,"tool_description":"d"}`, "", "", false},
		{"missing description", `{"tool_name":"n"}`, "", "", false},
		{"empty description", `{"tool_name":"n","tool_description":""}`, "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := collect(t, []Row{row("idx", tt.config)})
			if !tt.wantKeep {
				if len(got) != 0 {
					t.Fatalf("expected row to be skipped, got %+v", got)
				}
				return
			}
			if len(got) != 1 {
				t.Fatalf("expected 1 descriptor, got %d", len(got))
			}
			if got[0].Name != tt.wantName || got[0].Description != tt.wantDesc || got[0].IndexID != "idx" {
				t.Errorf("unexpected descriptor %+v", got[0])
			}
		})
	}
}

func TestLoad_Preset(t *testing.T) {
	tests := []struct {
		name   string
		preset string
		want   string
	}{
		{"object kept verbatim", `{"dense_similarity_top_k":5}`, `{"dense_similarity_top_k":5}`},
		{"empty object dropped", `{}`, ""},
		{"empty array dropped", `[]`, ""},
		{"null dropped", `null`, ""},
		{"empty string dropped", `""`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := `{"tool_name":"t","tool_description":"d","preset_retrieval_parameters":` + tt.preset + `}`
			got := collect(t, []Row{row("idx", cfg)})
			if len(got) != 1 {
				t.Fatalf("expected 1 descriptor, got %d", len(got))
			}
			if string(got[0].Preset) != tt.want {
				t.Errorf("expected preset %q, got %q", tt.want, got[0].Preset)
			}
		})
	}

	got := collect(t, []Row{row("idx", `{"tool_name":"t","tool_description":"d"}`)})
	if got[0].Preset != nil {
		t.Errorf("expected nil preset when absent, got %q", got[0].Preset)
	}
}

func TestLoad_MixedRowsKeepOrderAndDuplicates(t *testing.T) {
	rows := []Row{
		row("a", `{"tool_name":"one","tool_description":"first"}`),
		row("b", `[]`),
		row("c", `{"tool_name":"two","tool_description":"second"}`),
		row("d", `{"tool_name":"one","tool_description":"duplicate"}`),
	}
	got := collect(t, rows)

	var ids []string
	for _, d := range got {
		ids = append(ids, d.IndexID)
	}
	if !slices.Equal(ids, []string{"a", "c", "d"}) {
		t.Errorf("expected [a c d], got %v", ids)
	}
}

func TestLoad_SequenceIsSingleUse(t *testing.T) {
	seq, err := NewLoader(&fakeRows{rows: []Row{
		row("a", `{"tool_name":"one","tool_description":"d"}`),
	}}).Load(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if n := len(slices.Collect(seq)); n != 1 {
		t.Fatalf("first iteration: expected 1, got %d", n)
	}
	if n := len(slices.Collect(seq)); n != 0 {
		t.Errorf("second iteration: expected 0, got %d", n)
	}
}

func TestLoad_EarlyStop(t *testing.T) {
	seq, _ := NewLoader(&fakeRows{rows: []Row{
		row("a", `{"tool_name":"one","tool_description":"d"}`),
		row("b", `{"tool_name":"two","tool_description":"d"}`),
	}}).Load(context.Background(), "u1")

	count := 0
	for range seq {
		count++
		break
	}
	if count != 1 {
		t.Errorf("expected to stop after 1, got %d", count)
	}
}

func TestLoad_StoreError(t *testing.T) {
	dbErr := errors.New("relation does not exist")
	_, err := NewLoader(&fakeRows{err: dbErr}).Load(context.Background(), "u1")
	if !errors.Is(err, dbErr) {
		t.Errorf("expected wrapped store error, got %v", err)
	}
}

func TestLoad_NoRows(t *testing.T) {
	if got := collect(t, nil); len(got) != 0 {
		t.Errorf("expected no descriptors, got %d", len(got))
	}
}

func TestLoad_UnparseableStringsWarn(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	got := collect(t, []Row{
		row("broken-outer", `"unterminated`),
		row("broken-inner", `"not json"`),
		row("no-name", `{"tool_description":"d"}`),
	})
	if len(got) != 0 {
		t.Fatalf("expected all rows skipped, got %+v", got)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 log lines, got %d:\n%s", len(lines), buf.String())
	}
	for i, indexID := range []string{"broken-outer", "broken-inner"} {
		if !strings.Contains(lines[i], "level=WARN") || !strings.Contains(lines[i], "index_id="+indexID) {
			t.Errorf("expected warning for %s, got %q", indexID, lines[i])
		}
	}
	if !strings.Contains(lines[2], "level=DEBUG") {
		t.Errorf("expected debug line for missing name, got %q", lines[2])
	}
}
