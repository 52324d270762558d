package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

var (
	vOnce sync.Once
	v     *validator.Validate
)

func validate() *validator.Validate {
	vOnce.Do(func() {
		v = validator.New(validator.WithRequiredStructEnabled())
	})
	return v
}

// Validate checks a normalized config. It reports every failing field at
// once so a broken file can be fixed in one pass.
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}

	var problems []string

	if err := validate().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				problems = append(problems, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
		} else {
			return fmt.Errorf("config: validate: %w", err)
		}
	}

	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		problems = append(problems, fmt.Sprintf("Config.RefreshCron: %v", err))
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: invalid: %s", strings.Join(problems, "; "))
	}
	return nil
}
