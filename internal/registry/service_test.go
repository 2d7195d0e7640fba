package registry

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

type fakeToolStore struct {
	upserted  map[string]json.RawMessage
	deleted   []string
	taken     bool
	upsertErr error
	takenErr  error
}

func newFakeToolStore() *fakeToolStore {
	return &fakeToolStore{upserted: map[string]json.RawMessage{}}
}

func (f *fakeToolStore) Upsert(ctx context.Context, userID, indexID string, config json.RawMessage) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserted[indexID] = config
	return nil
}

func (f *fakeToolStore) Delete(ctx context.Context, userID, indexID string) error {
	f.deleted = append(f.deleted, indexID)
	return nil
}

func (f *fakeToolStore) NameTaken(ctx context.Context, userID, name, exceptIndexID string) (bool, error) {
	return f.taken, f.takenErr
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		want    string
		wantErr error
	}{
		{"full", `{"tool_name":"search_docs","tool_description":"Docs","preset_retrieval_parameters":{"dense_similarity_top_k":3}}`,
			`{"tool_name":"search_docs","tool_description":"Docs","preset_retrieval_parameters":{"dense_similarity_top_k":3}}`, nil},
		{"unknown keys dropped", `{"tool_name":"a","tool_description":"b","extra":1}`, `{"tool_name":"a","tool_description":"b"}`, nil},
		{"empty values dropped", `{"tool_name":"","tool_description":"","preset_retrieval_parameters":{}}`, `{}`, nil},
		{"absent config", ``, `{}`, nil},
		{"null config", `null`, `{}`, nil},
		{"uppercase name", `{"tool_name":"Search"}`, "", ErrInvalidName},
		{"dash in name", `{"tool_name":"search-docs"}`, "", ErrInvalidName},
		{"name too long", `{"tool_name":"` + strings.Repeat("a", 65) + `"}`, "", ErrInvalidName},
		{"numeric name", `{"tool_name":5}`, "", ErrInvalidName},
		{"non-object", `[1]`, "", ErrInvalidConfig},
		{"string config", `"x"`, "", ErrInvalidConfig},
		{"numeric description", `{"tool_description":5}`, "", ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Sanitize(json.RawMessage(tt.config))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			data, _ := json.Marshal(cfg)
			if string(data) != tt.want {
				t.Errorf("got %s, want %s", data, tt.want)
			}
		})
	}
}

func TestServiceEnable(t *testing.T) {
	store := newFakeToolStore()
	svc := NewService(store)

	cfg, err := svc.Enable(context.Background(), "u1", "idx1", json.RawMessage(`{"tool_name":"search_docs","tool_description":"Docs","junk":true}`))
	if err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if cfg.ToolName != "search_docs" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if got := string(store.upserted["idx1"]); got != `{"tool_name":"search_docs","tool_description":"Docs"}` {
		t.Errorf("unexpected stored config %s", got)
	}
}

func TestServiceEnableErrors(t *testing.T) {
	dbErr := errors.New("db down")
	tests := []struct {
		name    string
		indexID string
		setup   func(*fakeToolStore)
		wantErr error
	}{
		{"missing index", "", func(*fakeToolStore) {}, ErrIndexIDRequired},
		{"duplicate name", "idx1", func(f *fakeToolStore) { f.taken = true }, ErrDuplicateName},
		{"name check fails", "idx1", func(f *fakeToolStore) { f.takenErr = dbErr }, dbErr},
		{"upsert fails", "idx1", func(f *fakeToolStore) { f.upsertErr = dbErr }, dbErr},
		{"constraint race", "idx1", func(f *fakeToolStore) { f.upsertErr = ErrDuplicateName }, ErrDuplicateName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeToolStore()
			tt.setup(store)
			_, err := NewService(store).Enable(context.Background(), "u1", tt.indexID,
				json.RawMessage(`{"tool_name":"search_docs","tool_description":"Docs"}`))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestServiceEnableWithoutNameSkipsDuplicateCheck(t *testing.T) {
	store := newFakeToolStore()
	store.taken = true
	if _, err := NewService(store).Enable(context.Background(), "u1", "idx1", json.RawMessage(`{"tool_description":"d"}`)); err != nil {
		t.Fatalf("expected no error without tool_name, got %v", err)
	}
}

func TestServiceDisable(t *testing.T) {
	store := newFakeToolStore()
	svc := NewService(store)

	if err := svc.Disable(context.Background(), "u1", "idx1"); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "idx1" {
		t.Errorf("expected idx1 deleted, got %v", store.deleted)
	}
	if err := svc.Disable(context.Background(), "u1", " "); !errors.Is(err, ErrIndexIDRequired) {
		t.Errorf("expected ErrIndexIDRequired, got %v", err)
	}
}

func TestIsEmptyJSON(t *testing.T) {
	for _, s := range []string{``, ` `, `null`, `""`, `{}`, `[]`, ` { } `} {
		if !isEmptyJSON(json.RawMessage(s)) {
			t.Errorf("expected %q to be empty", s)
		}
	}
	for _, s := range []string{`0`, `false`, `"x"`, `{"a":1}`, `[0]`} {
		if isEmptyJSON(json.RawMessage(s)) {
			t.Errorf("expected %q to be non-empty", s)
		}
	}
}
