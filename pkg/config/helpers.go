package config

import (
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/glorpus-work/assetpkg/pkg/errors"
)

// settingFields maps yaml keys to Settings struct fields.
func settingFields() map[string]int {
	fields := make(map[string]int)
	t := reflect.TypeOf(Settings{})
	for i := 0; i < t.NumField(); i++ {
		key := strings.Split(t.Field(i).Tag.Get("yaml"), ",")[0]
		if key == "" || key == "-" {
			continue
		}
		fields[key] = i
	}
	return fields
}

// Keys returns every configuration key in sorted order.
func Keys() []string {
	fields := settingFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// SetValue sets a configuration value by its yaml key, e.g. "base_url" or
// "unpack_workers". Durations use time.ParseDuration syntax. The result is validated.
func (c *Config) SetValue(key, value string) error {
	idx, ok := settingFields()[key]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrUnknownConfigKey, key)
	}

	updated := *c
	field := reflect.ValueOf(&updated.Settings).Elem().Field(idx)
	switch {
	case field.Type() == reflect.TypeOf(time.Duration(0)):
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w for %s: %s", errors.ErrInvalidConfigValue, key, value)
		}
		field.SetInt(int64(d))
	case field.Kind() == reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w for %s: %s", errors.ErrInvalidConfigValue, key, value)
		}
		field.SetBool(b)
	case field.Kind() == reflect.Int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w for %s: %s", errors.ErrInvalidConfigValue, key, value)
		}
		field.SetInt(int64(n))
	default:
		field.SetString(value)
	}

	updated.normalize()
	if err := updated.Validate(); err != nil {
		return err
	}
	*c = updated
	return nil
}

// GetValue returns the value of a configuration key as a string.
func (c *Config) GetValue(key string) (string, error) {
	value, ok := c.ToMap()[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", errors.ErrUnknownConfigKey, key)
	}
	return value, nil
}

// ToMap returns every setting keyed by its yaml key.
// This is useful for displaying the configuration.
func (c *Config) ToMap() map[string]string {
	result := make(map[string]string)
	settings := reflect.ValueOf(c.Settings)
	for key, idx := range settingFields() {
		field := settings.Field(idx)
		var s string
		switch {
		case field.Type() == reflect.TypeOf(time.Duration(0)):
			s = time.Duration(field.Int()).String()
		case field.Kind() == reflect.Bool:
			s = strconv.FormatBool(field.Bool())
		case field.Kind() == reflect.Int:
			s = strconv.FormatInt(field.Int(), 10)
		default:
			s = field.String()
		}
		result[key] = s
	}
	return result
}
