package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/common/apperr"
	"github.com/agpstudio/agp/internal/common/logger"
)

// Service is the settings API used by handlers and by the other backend
// components. A single mutex serializes updates against concurrent reads
// of the file.
type Service struct {
	store  Store
	logger *logger.Logger
	mu     sync.Mutex
}

// NewService creates a settings service on top of the given store.
func NewService(store Store, log *logger.Logger) *Service {
	return &Service{
		store:  store,
		logger: log.WithFields(zap.String("component", "settings")),
	}
}

// GetAll returns the current settings. With maskSecrets set, every secret
// is replaced by its masked rendering; callers that launch processes or
// sign requests pass false.
func (s *Service) GetAll(maskSecrets bool) (*Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loaded, err := s.store.Load()
	if err != nil {
		return nil, err
	}
	if maskSecrets {
		return loaded.Masked(), nil
	}
	return loaded, nil
}

// Update merges a partial document over the stored settings, validates the
// result and persists it. Masked secret values in the partial keep the
// stored secret. The write is all-or-nothing: on any validation error the
// file is untouched and the returned error lists every problem. The
// returned settings are masked.
func (s *Service) Update(ctx context.Context, partial map[string]any) (*Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.store.Load()
	if err != nil {
		return nil, err
	}

	next, err := merge(current, partial)
	if err != nil {
		return nil, apperr.ConfigInvalid("settings payload does not match the expected shape: %v", err)
	}
	restoreSecrets(next, current)

	if errs := validateAgainst(next, current); len(errs) > 0 {
		return nil, apperr.ConfigInvalid("settings validation failed: %s", strings.Join(errs, "; "))
	}

	if err := s.store.Save(next); err != nil {
		return nil, err
	}
	s.logger.Info("settings updated", zap.Int("changed_sections", len(partial)))

	return next.Masked(), nil
}

// merge applies a partial JSON document over the current settings. Objects
// merge recursively; scalars, arrays and whole map entries replace. Type
// mismatches surface as the unmarshal error.
func merge(current *Settings, partial map[string]any) (*Settings, error) {
	base, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("failed to encode current settings: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(base, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode current settings: %w", err)
	}

	deepMerge(doc, partial)

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	next := &Settings{}
	if err := json.Unmarshal(raw, next); err != nil {
		return nil, err
	}
	return next, nil
}

func deepMerge(dst, src map[string]any) {
	for key, val := range src {
		srcMap, srcIsMap := val.(map[string]any)
		dstMap, dstIsMap := dst[key].(map[string]any)
		if srcIsMap && dstIsMap {
			deepMerge(dstMap, srcMap)
			continue
		}
		dst[key] = val
	}
}

// restoreSecrets replaces masked secret values in next with the stored
// ones. A masked value with no stored counterpart becomes empty; a mask is
// never a real secret.
func restoreSecrets(next, current *Settings) {
	for name, integ := range next.Integrations {
		if !IsMasked(integ.APIKey) {
			continue
		}
		if stored, ok := current.Integrations[name]; ok {
			integ.APIKey = stored.APIKey
		} else {
			integ.APIKey = ""
		}
		next.Integrations[name] = integ
	}
}
