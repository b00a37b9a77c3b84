package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// ErrConfigurationRequired marks a missing required setting (model name, API
// key, provider). The message is surfaced to the user verbatim.
var ErrConfigurationRequired = errors.New("Please configure your AI settings")

// ConfigurationError wraps ErrConfigurationRequired with the parameter that
// could not be resolved.
type ConfigurationError struct {
	Param string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%v: missing required setting '%s'", ErrConfigurationRequired, e.Param)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfigurationRequired
}

// MissionSettingsSource looks up a key inside a mission's metadata.
// A nil source disables the mission layer.
type MissionSettingsSource func(missionID, key string) (any, bool)

// UserSettingsSource looks up a dot-separated path inside user settings.
// A nil source disables the user layer.
type UserSettingsSource func(path string) (any, bool)

// Resolver resolves tunable parameters by layering
// mission > user > environment > default.
//
// The resolver is read-only; settings are mutated through the user-profile
// and mission-metadata interfaces, never through the resolver.
type Resolver struct {
	mu      sync.RWMutex
	params  map[string]Param
	mission MissionSettingsSource
	user    UserSettingsSource
}

// NewResolver creates a resolver over the built-in parameter table.
func NewResolver(mission MissionSettingsSource, user UserSettingsSource) *Resolver {
	params := make(map[string]Param, len(builtinParams))
	for _, p := range builtinParams {
		params[p.Name] = p
	}
	return &Resolver{
		params:  params,
		mission: mission,
		user:    user,
	}
}

// RegisterParam adds or replaces a parameter definition. Used by tests and
// by components that carry private tunables.
func (r *Resolver) RegisterParam(p Param) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.params[p.Name] = p
}

// Get resolves a parameter by name. missionID may be empty when no mission
// scope applies. The returned value is coerced to the parameter's declared
// type; a value at a higher layer that fails coercion falls through to the
// next layer.
func (r *Resolver) Get(name, missionID string) (any, error) {
	r.mu.RLock()
	param, ok := r.params[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown parameter: %s", name)
	}

	// Mission layer
	if missionID != "" && param.MissionKey != "" && r.mission != nil {
		if raw, found := r.mission(missionID, param.MissionKey); found {
			if v, ok := coerce(param.Type, raw); ok {
				return v, nil
			}
		}
	}

	// User layer
	if param.UserPath != "" && r.user != nil {
		if raw, found := r.user(param.UserPath); found {
			if v, ok := coerce(param.Type, raw); ok {
				return v, nil
			}
		}
	}

	// Environment layer
	if param.EnvVar != "" {
		if raw := os.Getenv(param.EnvVar); raw != "" {
			if v, ok := coerce(param.Type, raw); ok {
				return v, nil
			}
		}
	}

	// Default layer
	if param.Default != nil {
		return param.Default, nil
	}

	if param.Required {
		return nil, &ConfigurationError{Param: name}
	}

	return zeroValue(param.Type), nil
}

// GetString resolves a string parameter.
func (r *Resolver) GetString(name, missionID string) (string, error) {
	v, err := r.Get(name, missionID)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

// GetInt resolves an integer parameter.
func (r *Resolver) GetInt(name, missionID string) (int, error) {
	v, err := r.Get(name, missionID)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	}
	return 0, fmt.Errorf("parameter %s is not an integer", name)
}

// GetFloat resolves a float parameter.
func (r *Resolver) GetFloat(name, missionID string) (float64, error) {
	v, err := r.Get(name, missionID)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	}
	return 0, fmt.Errorf("parameter %s is not a float", name)
}

// GetBool resolves a boolean parameter.
func (r *Resolver) GetBool(name, missionID string) (bool, error) {
	v, err := r.Get(name, missionID)
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}

// coerce converts a raw layer value to the declared type. Booleans accept
// true|1|yes|on; integers and floats parse strictly.
func coerce(t ParamType, raw any) (any, bool) {
	switch t {
	case TypeString:
		switch v := raw.(type) {
		case string:
			return v, true
		}
		return nil, false

	case TypeInt:
		switch v := raw.(type) {
		case int:
			return v, true
		case int64:
			return int(v), true
		case float64:
			// JSON numbers arrive as float64; only accept integral values
			if v == float64(int(v)) {
				return int(v), true
			}
			return nil, false
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, false
			}
			return n, true
		}
		return nil, false

	case TypeFloat:
		switch v := raw.(type) {
		case float64:
			return v, true
		case int:
			return float64(v), true
		case int64:
			return float64(v), true
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, false
			}
			return f, true
		}
		return nil, false

	case TypeBool:
		switch v := raw.(type) {
		case bool:
			return v, true
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "1", "yes", "on":
				return true, true
			case "false", "0", "no", "off":
				return false, true
			}
			return nil, false
		}
		return nil, false
	}
	return nil, false
}

func zeroValue(t ParamType) any {
	switch t {
	case TypeString:
		return ""
	case TypeInt:
		return 0
	case TypeFloat:
		return 0.0
	case TypeBool:
		return false
	}
	return nil
}

// LookupUserPath walks a dot-separated path through nested
// map[string]any settings. Helper for UserSettingsSource implementations.
func LookupUserPath(settings map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = settings
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
