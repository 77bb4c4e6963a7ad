package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"threadlet/internal/schedule"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("schedule", func(fl validator.FieldLevel) bool {
		_, err := schedule.ParseSchedule(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, err := ParseDurationField(fl.FieldName(), fl.Field().String())
		return err == nil
	})
	return v
}

// ParseDurationField parses an optional non-negative duration. Empty means
// zero; path names the field in errors.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %w", path, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %q", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err == nil && d == 0 {
		d = def
	}
	return d, err
}

// Validate checks field rules and cross references: unique names and
// targets that point at declared threadlets or items.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	var errs []error
	threadlets := make(map[string]*ThreadletConfig, len(cfg.Threadlets))
	for i := range cfg.Threadlets {
		tc := &cfg.Threadlets[i]
		if _, dup := threadlets[tc.Name]; dup {
			errs = append(errs, fmt.Errorf("threadlets[%d]: duplicate name %q", i, tc.Name))
		}
		threadlets[tc.Name] = tc
	}

	for _, tc := range cfg.Threadlets {
		items := map[string]bool{}
		for _, tk := range tc.Tasklets {
			if items[tk.Name] {
				errs = append(errs, fmt.Errorf("threadlet %q: duplicate item %q", tc.Name, tk.Name))
			}
			items[tk.Name] = true
		}
		for _, ev := range tc.Events {
			if items[ev.Name] {
				errs = append(errs, fmt.Errorf("threadlet %q: duplicate item %q", tc.Name, ev.Name))
			}
			items[ev.Name] = true
		}
		for _, tk := range tc.Tasklets {
			switch tk.Action {
			case ActionSignal, ActionStop:
				if tk.Target != "" && threadlets[tk.Target] == nil {
					errs = append(errs, fmt.Errorf("threadlet %q: tasklet %q targets unknown threadlet %q", tc.Name, tk.Name, tk.Target))
				}
			case ActionSuspend, ActionResume:
				if !items[tk.Target] {
					errs = append(errs, fmt.Errorf("threadlet %q: tasklet %q targets unknown item %q", tc.Name, tk.Name, tk.Target))
				}
			}
		}
	}
	return errors.Join(errs...)
}
