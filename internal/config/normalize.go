package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeLocations(); err != nil {
		return err
	}
	c.normalizeMonitoring()
	c.normalizeCleanup()
	c.normalizeValidation()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("DROPWATCH_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeLocations() error {
	for i := range c.Locations {
		loc := &c.Locations[i]
		loc.Name = strings.TrimSpace(loc.Name)
		loc.Role = strings.ToLower(strings.TrimSpace(loc.Role))
		loc.Type = strings.ToLower(strings.TrimSpace(loc.Type))
		if loc.Type == "" {
			loc.Type = TypeLocal
		}
		if loc.Name == "" {
			loc.Name = loc.Role
		}
		expanded, err := expandPath(strings.TrimSpace(loc.Path))
		if err != nil {
			return fmt.Errorf("locations[%d].path: %w", i, err)
		}
		loc.Path = expanded
		loc.Username = strings.TrimSpace(loc.Username)
		loc.Domain = strings.TrimSpace(loc.Domain)
		if loc.Type == TypeNetwork && loc.Password == "" {
			if value, ok := os.LookupEnv("DROPWATCH_SHARE_PASSWORD"); ok {
				loc.Password = value
			}
		}
	}
	return nil
}

func (c *Config) normalizeMonitoring() {
	c.Monitoring.Mode = strings.ToLower(strings.TrimSpace(c.Monitoring.Mode))
	if c.Monitoring.Mode == "" {
		c.Monitoring.Mode = defaultMonitoringMode
	}
	exts := make([]string, 0, len(c.Monitoring.Extensions))
	seen := make(map[string]struct{}, len(c.Monitoring.Extensions))
	for _, ext := range c.Monitoring.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if _, ok := seen[ext]; ok {
			continue
		}
		seen[ext] = struct{}{}
		exts = append(exts, ext)
	}
	c.Monitoring.Extensions = exts
	if c.Monitoring.QueueSize <= 0 {
		c.Monitoring.QueueSize = defaultQueueSize
	}
}

func (c *Config) normalizeCleanup() {
	for _, rule := range []*Rule{&c.Cleanup.StatusRetention, &c.Cleanup.FileRetention, &c.Cleanup.ProcessingTimeout} {
		rule.Unit = strings.ToLower(strings.TrimSpace(rule.Unit))
		if rule.Unit == "" {
			rule.Unit = UnitDays
		}
	}
}

func (c *Config) normalizeValidation() {
	c.Validation.FilenamePattern = strings.TrimSpace(c.Validation.FilenamePattern)
	c.Validation.PatternDescription = strings.TrimSpace(c.Validation.PatternDescription)
	c.Validation.GenericRemark = strings.TrimSpace(c.Validation.GenericRemark)
	if c.Validation.GenericRemark == "" {
		c.Validation.GenericRemark = defaultGenericRemark
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "console", "json":
	default:
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
