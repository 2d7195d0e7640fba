package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Validation errors returned by the Service layer.
var (
	ErrIndexIDRequired = errors.New("indexId is required")
	ErrInvalidConfig   = errors.New("config must be a JSON object")
	ErrInvalidName     = errors.New("tool_name must match ^[a-z0-9_]{1,64}$")
	ErrDuplicateName   = errors.New("tool_name is already used by another index")
)

var toolNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// toolStore is the subset of Store the Service writes through.
type toolStore interface {
	Upsert(ctx context.Context, userID, indexID string, config json.RawMessage) error
	Delete(ctx context.Context, userID, indexID string) error
	NameTaken(ctx context.Context, userID, name, exceptIndexID string) (bool, error)
}

// Service applies tool settings changes on behalf of a user.
type Service struct {
	store toolStore
}

// NewService creates a new Service wrapping the given store.
func NewService(store toolStore) *Service {
	return &Service{store: store}
}

// Enable stores a sanitized copy of config for the index.
func (s *Service) Enable(ctx context.Context, userID, indexID string, config json.RawMessage) (*ToolConfig, error) {
	if strings.TrimSpace(indexID) == "" {
		return nil, ErrIndexIDRequired
	}
	cfg, err := Sanitize(config)
	if err != nil {
		return nil, err
	}

	if cfg.ToolName != "" {
		taken, err := s.store.NameTaken(ctx, userID, cfg.ToolName, indexID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, ErrDuplicateName
		}
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshalling tool config: %w", err)
	}
	if err := s.store.Upsert(ctx, userID, indexID, data); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Disable removes the index's tool configuration.
func (s *Service) Disable(ctx context.Context, userID, indexID string) error {
	if strings.TrimSpace(indexID) == "" {
		return ErrIndexIDRequired
	}
	return s.store.Delete(ctx, userID, indexID)
}

// Sanitize keeps only the known, non-empty fields of a submitted config.
// An absent or null config yields an empty ToolConfig.
func Sanitize(config json.RawMessage) (*ToolConfig, error) {
	cfg := &ToolConfig{}
	if isEmptyJSON(config) {
		return cfg, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(config, &fields); err != nil {
		return nil, ErrInvalidConfig
	}

	if raw, ok := fields["tool_name"]; ok && !isEmptyJSON(raw) {
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return nil, ErrInvalidName
		}
		if !toolNamePattern.MatchString(name) {
			return nil, ErrInvalidName
		}
		cfg.ToolName = name
	}

	if raw, ok := fields["tool_description"]; ok && !isEmptyJSON(raw) {
		if err := json.Unmarshal(raw, &cfg.ToolDescription); err != nil {
			return nil, fmt.Errorf("%w: tool_description must be a string", ErrInvalidConfig)
		}
		cfg.ToolDescription = strings.TrimSpace(cfg.ToolDescription)
	}

	if raw := fields["preset_retrieval_parameters"]; !isEmptyJSON(raw) {
		cfg.PresetRetrievalParameters = raw
	}
	return cfg, nil
}
