package proxy

import (
	"errors"
	"fmt"

	"modelproxy/internal/settings"
	"modelproxy/pkg/types"
)

// SettingsGet returns the effective settings record for a model. When no
// override is persisted, the record is recommended from the model's
// cached descriptor.
func (e *Engine) SettingsGet(name string) (types.SettingsRecord, error) {
	if err := validateModelName(name); err != nil {
		return types.SettingsRecord{}, err
	}
	if rec, ok := e.settings.Get(name); ok {
		return rec, nil
	}
	return e.settings.GetOrRecommend(e.describe(name)), nil
}

// SettingsSet validates and persists an override. Failures come back
// classified for the caller.
func (e *Engine) SettingsSet(name string, params map[string]any) (types.SettingsRecord, types.MutationResult) {
	if err := validateModelName(name); err != nil {
		return types.SettingsRecord{}, types.MutationResult{
			Message:        err.Error(),
			Classification: ClassificationValidation,
		}
	}
	rec, err := e.settings.Set(name, params)
	if err != nil {
		classification := ClassificationValidation
		var perr *settings.PersistenceError
		if errors.As(err, &perr) {
			classification = ClassificationPersistence
		}
		e.log.Warn().Str("model", name).Str("classification", classification).Err(err).
			Msg("settings write rejected")
		return types.SettingsRecord{}, types.MutationResult{
			Message:        err.Error(),
			Classification: classification,
		}
	}
	return rec, types.MutationResult{
		OpID:    e.newOpID(),
		Success: true,
		Message: fmt.Sprintf("settings saved for %s", name),
	}
}

// SettingsDelete removes an override, reverting reads to recommended
// defaults.
func (e *Engine) SettingsDelete(name string) types.MutationResult {
	if err := validateModelName(name); err != nil {
		return types.MutationResult{
			Message:        err.Error(),
			Classification: ClassificationValidation,
		}
	}
	removed, err := e.settings.Delete(name)
	if err != nil {
		return types.MutationResult{
			Message:        err.Error(),
			Classification: ClassificationPersistence,
		}
	}
	if !removed {
		return types.MutationResult{
			Message:        fmt.Sprintf("no settings stored for %s", name),
			Classification: ClassificationValidation,
		}
	}
	return types.MutationResult{
		OpID:    e.newOpID(),
		Success: true,
		Message: fmt.Sprintf("settings reset for %s", name),
	}
}

// SettingsRecommend computes recommended parameters for a model without
// persisting anything.
func (e *Engine) SettingsRecommend(name string) (map[string]any, error) {
	if err := validateModelName(name); err != nil {
		return nil, err
	}
	return settings.Recommend(e.describe(name)), nil
}

// describe finds the model's descriptor in the cached lists so settings
// recommendations see its size and capabilities. Unknown models get a
// bare descriptor with detected capabilities.
func (e *Engine) describe(name string) types.ModelDescriptor {
	for _, key := range []string{KeyAvailableModels, KeyRunningModels} {
		for _, m := range e.cachedModels(key) {
			if m.Name == name {
				return m
			}
		}
	}
	d := types.ModelDescriptor{Name: name}
	e.caps.Ensure(&d)
	return d
}
