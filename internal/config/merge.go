package config

import (
	"encoding/json"

	"github.com/sevakavakians/kato/internal/kerrors"
	"github.com/sevakavakians/kato/internal/models"
)

// Merge computes a session's effective configuration as
// system_defaults ⊕ overrides (spec.md §4.7): a key-wise override where
// any key present in overrides wins. Keys are the Config json tag names
// (e.g. "recall_threshold"); keys naming no field are ignored, and a value
// of the wrong type yields a ConfigurationError. Merge applies the
// use_token_matching/sort_symbols auto-toggle rule (ApplyAutoToggle) to
// overrides itself before merging.
func Merge(base Config, overrides map[string]interface{}) (Config, error) {
	effective := base
	if len(overrides) == 0 {
		return effective, nil
	}
	ApplyAutoToggle(overrides)
	// Decode onto a private copy of the slice so base's array is never written.
	effective.FilterPipeline = append([]models.FilterStage(nil), base.FilterPipeline...)
	raw, err := json.Marshal(overrides)
	if err == nil {
		err = json.Unmarshal(raw, &effective)
	}
	if err != nil {
		return Config{}, kerrors.NewConfigurationError("config_overrides", overrides, "map[string]interface{}")
	}
	if err := Validate(effective); err != nil {
		return Config{}, err
	}
	return effective, nil
}
