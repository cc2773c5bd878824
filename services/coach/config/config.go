// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config provides threshold configuration for the coach service.
//
// Settings are loaded once per run from an embedded default YAML,
// optionally overlaid with a user YAML file, then overlaid with
// environment variables for secrets. The merged result is validated
// before any component sees it; a malformed configuration aborts the
// run before any external system is touched.
//
// Thread Safety:
//
//	Settings is an immutable value after Load returns. Callers pass it
//	by value or as a read-only pointer; nothing in this package mutates
//	it afterwards.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	// MaxConfigFileSize is the maximum allowed config file size (1MB).
	// Prevents memory issues from accidentally pointing at large files.
	MaxConfigFileSize = 1024 * 1024

	// EnvAPIKey is the environment variable carrying the OpenAI API key.
	// The key is never read from YAML so it cannot leak into checked-in
	// config files.
	EnvAPIKey = "GARMIN_COACH_OPENAI_API_KEY"

	// EnvLLMModel optionally overrides the configured model name.
	EnvLLMModel = "GARMIN_COACH_LLM_MODEL"
)

//go:embed default.yaml
var defaultSettingsYAML []byte

// Sentinel errors for configuration loading.
var (
	// ErrConfigTooLarge indicates the config file exceeds MaxConfigFileSize.
	ErrConfigTooLarge = errors.New("config file exceeds maximum size")

	// ErrConfigInvalid indicates the merged settings failed validation.
	ErrConfigInvalid = errors.New("config validation failed")
)

// Duration wraps time.Duration with YAML support for values like "30s".
type Duration time.Duration

// UnmarshalYAML parses a duration string ("1s", "500ms", "2m").
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Thresholds holds the rule thresholds applied by the flag evaluator and
// the guardrails applied to proposed plan revisions.
//
// The chronic/acute day constants are configuration rather than
// hard-coded values; 42/7 are the domain-conventional defaults.
type Thresholds struct {
	// RampPercentageMax is the maximum allowed week-over-week training
	// load increase before a ramp-rate flag is raised (0.10 = 10%).
	RampPercentageMax float64 `yaml:"ramp_percentage_max" validate:"gt=0,lte=1"`

	// CTLATLRatioMax is the ATL/CTL ratio above which an
	// overtraining-risk flag is raised.
	CTLATLRatioMax float64 `yaml:"ctl_atl_ratio_max" validate:"gt=0,lte=5"`

	// HRVDropZScore is the z-score below which a recovery flag is
	// raised. Must be negative: a drop, not a rise.
	HRVDropZScore float64 `yaml:"hrv_drop_zscore" validate:"lt=0"`

	// SleepMinHours is the minimum nightly sleep before a sleep flag
	// is raised.
	SleepMinHours float64 `yaml:"sleep_min_hours" validate:"gt=0,lt=24"`

	// VolumeChangeMax is the maximum volume-change ratio a proposed
	// revision may declare. Hard validation gate, not a warning.
	VolumeChangeMax float64 `yaml:"volume_change_max" validate:"gt=0,lte=1"`

	// HRVBaselineDays is the trailing window used for the HRV baseline
	// mean and standard deviation.
	HRVBaselineDays int `yaml:"hrv_baseline_days" validate:"gte=2,lte=365"`

	// ChronicDays is the CTL exponential moving average time constant.
	ChronicDays int `yaml:"chronic_days" validate:"gte=2,lte=365"`

	// AcuteDays is the ATL exponential moving average time constant.
	// Must be shorter than the chronic constant.
	AcuteDays int `yaml:"acute_days" validate:"gte=1,ltfield=ChronicDays"`
}

// Retry holds the parameters for the shared retry/backoff policy.
type Retry struct {
	MaxAttempts    int      `yaml:"max_attempts" validate:"gte=1,lte=20"`
	InitialBackoff Duration `yaml:"initial_backoff" validate:"gt=0"`
	MaxBackoff     Duration `yaml:"max_backoff" validate:"gtefield=InitialBackoff"`
	BackoffFactor  float64  `yaml:"backoff_factor" validate:"gte=1"`
	JitterFactor   float64  `yaml:"jitter_factor" validate:"gte=0,lte=1"`
}

// LLM holds model-inference settings. The API key is environment-only.
type LLM struct {
	Model   string   `yaml:"model" validate:"required"`
	Timeout Duration `yaml:"timeout" validate:"gt=0"`
	APIKey  string   `yaml:"-"`
}

// Schedule carries the cron expressions for the external scheduler.
// The core never schedules itself; these are published for whatever
// invokes the three entry points.
type Schedule struct {
	SyncDailyCron   string `yaml:"sync_daily_cron" validate:"required"`
	SyncCatchupCron string `yaml:"sync_catchup_cron" validate:"required"`
	AdaptWeeklyCron string `yaml:"adapt_weekly_cron" validate:"required"`
}

// Goals carries athlete goal context that is threaded into the revision
// prompt. All fields are optional.
type Goals struct {
	GoalDate          string   `yaml:"goal_date" validate:"omitempty,datetime=2006-01-02"`
	GoalType          string   `yaml:"goal_type"`
	AvailableWeekdays []string `yaml:"available_weekdays" validate:"dive,oneof=MON TUE WED THU FRI SAT SUN"`
	BlockedDates      []string `yaml:"blocked_dates" validate:"dive,datetime=2006-01-02"`
}

// Settings is the full, versioned configuration value threaded into
// every component call. There is no ambient global.
type Settings struct {
	Version    int        `yaml:"version" validate:"gte=1"`
	Thresholds Thresholds `yaml:"thresholds" validate:"required"`
	Retry      Retry      `yaml:"retry" validate:"required"`
	LLM        LLM        `yaml:"llm" validate:"required"`
	Schedule   Schedule   `yaml:"schedule" validate:"required"`
	Goals      Goals      `yaml:"goals"`
}

// Load builds Settings from the embedded defaults, the optional user
// file at path (pass "" to skip), and environment overrides, then
// validates the merged result.
//
// Inputs:
//   - path: Optional user YAML file. Must exist if non-empty.
//
// Outputs:
//   - *Settings: The validated settings. Never nil on success.
//   - error: ErrConfigInvalid (wrapped) on validation failure,
//     ErrConfigTooLarge for oversized files, or an I/O/parse error.
func Load(path string) (*Settings, error) {
	settings := &Settings{}
	if err := decodeStrict(defaultSettingsYAML, settings); err != nil {
		// Embedded defaults are compiled in; failing here is a build defect.
		return nil, fmt.Errorf("embedded defaults: %w", err)
	}

	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if info.Size() > MaxConfigFileSize {
			return nil, fmt.Errorf("%w: %s is %d bytes", ErrConfigTooLarge, path, info.Size())
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := decodeStrict(data, settings); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	if key := os.Getenv(EnvAPIKey); key != "" {
		settings.LLM.APIKey = key
	}
	if model := os.Getenv(EnvLLMModel); model != "" {
		settings.LLM.Model = model
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// Validate checks all numeric ranges and cross-field constraints.
// Out-of-range values are rejected rather than silently defaulted.
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	return nil
}

// decodeStrict unmarshals YAML rejecting unknown fields, so typos in
// threshold names fail loudly instead of leaving defaults in place.
func decodeStrict(data []byte, out *Settings) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("yaml decode: %w", err)
	}
	return nil
}
