package target

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

var areaCodePattern = regexp.MustCompile(`^(\d{2}|\d{4})$`)

// ValidateTargets validates target configurations.
func ValidateTargets(configs []Config) error {
	if len(configs) == 0 {
		// Empty configuration is valid - no targets registered
		return nil
	}

	seenIDs := make(map[string]bool)
	seenNames := make(map[string]bool)

	for i, config := range configs {
		if err := validateRequiredFields(config); err != nil {
			return fmt.Errorf("target configuration at position %d: %w", i+1, err)
		}

		if err := validateUUID(config.ID); err != nil {
			return fmt.Errorf("target '%s': %w", config.Name, err)
		}

		if seenIDs[config.ID] {
			return fmt.Errorf("duplicate target ID found: %s", config.ID)
		}
		seenIDs[config.ID] = true

		if seenNames[config.Name] {
			return fmt.Errorf("duplicate target name found: '%s'", config.Name)
		}
		seenNames[config.Name] = true

		if !areaCodePattern.MatchString(config.AreaCode) {
			return fmt.Errorf("target '%s': area code must be 2 or 4 digits (got '%s')", config.Name, config.AreaCode)
		}
	}

	return nil
}

// validateRequiredFields checks that all required fields are present and non-empty
func validateRequiredFields(config Config) error {
	if config.ID == "" {
		return fmt.Errorf("missing required field 'id'")
	}
	if config.Name == "" {
		return fmt.Errorf("missing required field 'name'")
	}
	if config.AreaCode == "" {
		return fmt.Errorf("missing required field 'areaCode'")
	}
	if config.ChannelID == "" {
		return fmt.Errorf("missing required field 'channelId'")
	}
	return nil
}

// validateUUID checks that the ID is a valid UUID v4
func validateUUID(id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid UUID format for id: %w", err)
	}

	if parsed.Version() != 4 {
		return fmt.Errorf("id must be a UUID v4 (got version %d)", parsed.Version())
	}

	return nil
}

// DiffTargets compares old and new target configurations and returns IDs to add, update, and
// remove. Added and updated IDs follow the order of newConfigs so registration order is stable.
func DiffTargets(oldConfigs, newConfigs []Config) (toAdd, toUpdate, toRemove []string) {
	oldMap := make(map[string]Config, len(oldConfigs))
	newMap := make(map[string]Config, len(newConfigs))

	for _, cfg := range oldConfigs {
		oldMap[cfg.ID] = cfg
	}
	for _, cfg := range newConfigs {
		newMap[cfg.ID] = cfg
	}

	for _, newCfg := range newConfigs {
		if oldCfg, exists := oldMap[newCfg.ID]; !exists {
			toAdd = append(toAdd, newCfg.ID)
		} else if oldCfg != newCfg {
			// Direct struct comparison works since all fields are primitive types
			toUpdate = append(toUpdate, newCfg.ID)
		}
	}

	for _, oldCfg := range oldConfigs {
		if _, exists := newMap[oldCfg.ID]; !exists {
			toRemove = append(toRemove, oldCfg.ID)
		}
	}

	return toAdd, toUpdate, toRemove
}
