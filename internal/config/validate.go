package config

import (
	"errors"
	"fmt"
	"regexp"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateLocations(); err != nil {
		return err
	}
	if err := c.validateMonitoring(); err != nil {
		return err
	}
	if err := c.validateCleanup(); err != nil {
		return err
	}
	if err := c.validateValidation(); err != nil {
		return err
	}
	if err := ensurePositiveMap(map[string]int{
		"notifications.request_timeout": c.Notifications.RequestTimeout,
	}); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateLocations() error {
	imports := 0
	failed := 0
	paths := make(map[string]int, len(c.Locations))
	for i, loc := range c.Locations {
		if loc.Path == "" {
			return fmt.Errorf("locations[%d].path must be set", i)
		}
		switch loc.Role {
		case RoleImport:
			imports++
		case RoleFailed:
			failed++
		default:
			return fmt.Errorf("locations[%d].role must be %q or %q, got %q", i, RoleImport, RoleFailed, loc.Role)
		}
		switch loc.Type {
		case TypeLocal, TypeNetwork:
		default:
			return fmt.Errorf("locations[%d].type must be %q or %q, got %q", i, TypeLocal, TypeNetwork, loc.Type)
		}
		if prev, ok := paths[loc.Path]; ok {
			return fmt.Errorf("locations[%d].path duplicates locations[%d].path (%s)", i, prev, loc.Path)
		}
		paths[loc.Path] = i
	}
	if imports == 0 {
		return errors.New("at least one import location must be configured")
	}
	if failed != 1 {
		return fmt.Errorf("exactly one failed location must be configured, found %d", failed)
	}
	return nil
}

func (c *Config) validateMonitoring() error {
	switch c.Monitoring.Mode {
	case ModeAuto, ModePush, ModePoll:
	default:
		return fmt.Errorf("monitoring.mode must be one of auto, push, poll; got %q", c.Monitoring.Mode)
	}
	if err := ensurePositiveMap(map[string]int{
		"monitoring.poll_interval":     c.Monitoring.PollInterval,
		"monitoring.fallback_interval": c.Monitoring.FallbackInterval,
	}); err != nil {
		return err
	}
	if c.Monitoring.QuietPeriodMS < 0 {
		return errors.New("monitoring.quiet_period_ms must not be negative")
	}
	if c.Monitoring.GraceWindowMS < 0 {
		return errors.New("monitoring.grace_window_ms must not be negative")
	}
	return nil
}

func (c *Config) validateCleanup() error {
	if c.Cleanup.Interval <= 0 {
		return errors.New("cleanup.interval must be positive (seconds)")
	}
	rules := map[string]Rule{
		"cleanup.status_retention":   c.Cleanup.StatusRetention,
		"cleanup.file_retention":     c.Cleanup.FileRetention,
		"cleanup.processing_timeout": c.Cleanup.ProcessingTimeout,
	}
	for name, rule := range rules {
		if err := ValidateRule(rule); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// ValidateRule checks a single cleanup rule.
func ValidateRule(rule Rule) error {
	if rule.Unit != UnitHours && rule.Unit != UnitDays {
		return fmt.Errorf("unit must be %q or %q, got %q", UnitHours, UnitDays, rule.Unit)
	}
	if rule.Enabled && rule.Value <= 0 {
		return errors.New("value must be positive when enabled")
	}
	return nil
}

func (c *Config) validateValidation() error {
	if c.Validation.FilenamePattern == "" {
		return nil
	}
	if _, err := regexp.Compile(c.Validation.FilenamePattern); err != nil {
		return fmt.Errorf("validation.filename_pattern: %w", err)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
