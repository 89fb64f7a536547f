// Package validation builds the remark attached to files that land in the
// failed location.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"dropwatch/internal/config"
)

const fallbackRemark = "File was rejected by the processing system"

// Validator checks file names against the configured rule.
type Validator struct {
	pattern     *regexp.Regexp
	description string
	generic     string
}

// New compiles the filename rule from cfg. An empty pattern only checks for
// control characters.
func New(cfg config.Validation) (*Validator, error) {
	v := &Validator{
		description: strings.TrimSpace(cfg.PatternDescription),
		generic:     strings.TrimSpace(cfg.GenericRemark),
	}
	if v.generic == "" {
		v.generic = fallbackRemark
	}
	if pattern := strings.TrimSpace(cfg.FilenamePattern); pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile filename pattern: %w", err)
		}
		v.pattern = re
	}
	return v, nil
}

// Problems lists every way name breaks the filename rule.
func (v *Validator) Problems(name string) []string {
	var problems []string
	if strings.IndexFunc(name, unicode.IsControl) >= 0 {
		problems = append(problems, "file name contains control characters")
	}
	if name != strings.TrimSpace(name) {
		problems = append(problems, "file name has leading or trailing whitespace")
	}
	if v.pattern != nil && !v.pattern.MatchString(name) {
		if v.description != "" {
			problems = append(problems, "file name must be "+v.description)
		} else {
			problems = append(problems, fmt.Sprintf("file name does not match %s", v.pattern.String()))
		}
	}
	return problems
}

// Remark returns the failure remark for name: the filename problems when
// there are any, otherwise the generic remark.
func (v *Validator) Remark(name string) string {
	if v == nil {
		return fallbackRemark
	}
	if problems := v.Problems(name); len(problems) > 0 {
		return strings.Join(problems, "; ")
	}
	return v.generic
}
