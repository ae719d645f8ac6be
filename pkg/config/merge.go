package config

import "dario.cat/mergo"

// mergeInto merges the non-zero fields of override onto base in place,
// implementing a "built-in defaults, user YAML wins" layering for
// QueueConfig.
func mergeInto[T any](base *T, override *T) error {
	return mergo.Merge(base, override, mergo.WithOverride)
}

// mergeServiceCaps merges user-provided per-service overrides onto the
// built-in defaults, the same "defaults first, user config wins" shape
// loader.go uses for QueueConfig: every service starts from
// DefaultServiceCaps() and only the fields a user actually set in system
// YAML are overridden.
func mergeServiceCaps(user map[string]ServiceCapConfig) (map[string]ServiceCapConfig, error) {
	result := DefaultServiceCaps()
	for service, override := range user {
		base := result[service]
		if err := mergo.Merge(&base, override, mergo.WithOverride); err != nil {
			return nil, err
		}
		result[service] = base
	}
	return result, nil
}
