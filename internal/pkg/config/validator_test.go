package config

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateCronSchedule(t *testing.T) {
	valid := []string{
		"0 0 * * *",
		"30 5 * * *",
		"0 */6 * * *",
		"30 9 * * 1-5",
		"*/5 * * * *",
		"15,45 */2 * * 1,3,5",
	}
	for _, s := range valid {
		t.Run("valid "+s, func(t *testing.T) {
			assert.NoError(t, ValidateCronSchedule(s))
		})
	}

	invalid := map[string]string{
		"empty":           "",
		"too few fields":  "0 0",
		"too many fields": "0 0 * * * * *",
		"minute 60":       "60 0 * * *",
		"hour 24":         "0 24 * * *",
		"month 13":        "0 0 * 13 *",
		"weekday 8":       "0 0 * * 8",
		"text":            "every hour",
	}
	for name, s := range invalid {
		t.Run("invalid "+name, func(t *testing.T) {
			err := ValidateCronSchedule(s)
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), "invalid cron schedule")
			}
		})
	}
}

func TestValidateTimezone(t *testing.T) {
	for _, tz := range []string{"UTC", "Asia/Tokyo", "America/New_York", "Europe/London"} {
		assert.NoError(t, ValidateTimezone(tz), tz)
	}
	for _, tz := range []string{"", "Mars/Olympus", "Not A Zone"} {
		err := ValidateTimezone(tz)
		if assert.Error(t, err, tz) {
			assert.Contains(t, err.Error(), "invalid timezone")
		}
	}
}

func TestValidateDuration(t *testing.T) {
	tests := []struct {
		name    string
		d       time.Duration
		min     time.Duration
		max     time.Duration
		wantErr string
	}{
		{name: "inside", d: 5 * time.Minute, min: time.Minute, max: time.Hour},
		{name: "at min", d: time.Minute, min: time.Minute, max: time.Hour},
		{name: "at max", d: time.Hour, min: time.Minute, max: time.Hour},
		{name: "below", d: time.Second, min: time.Minute, max: time.Hour, wantErr: "below minimum"},
		{name: "above", d: 2 * time.Hour, min: time.Minute, max: time.Hour, wantErr: "exceeds maximum"},
		{name: "inverted range", d: time.Minute, min: time.Hour, max: time.Minute, wantErr: "invalid range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDuration(tt.d, tt.min, tt.max)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateIntRange(t *testing.T) {
	assert.NoError(t, ValidateIntRange(5, 1, 10))
	assert.NoError(t, ValidateIntRange(math.MaxInt, 0, math.MaxInt))
	assert.ErrorContains(t, ValidateIntRange(0, 1, 10), "below minimum")
	assert.ErrorContains(t, ValidateIntRange(11, 1, 10), "exceeds maximum")
	assert.ErrorContains(t, ValidateIntRange(5, 10, 1), "invalid range")
}

func TestValidateFloatRange(t *testing.T) {
	assert.NoError(t, ValidateFloatRange(0.5, 0, 1))
	assert.NoError(t, ValidateFloatRange(1, 0, 1))
	assert.ErrorContains(t, ValidateFloatRange(1.5, 0, 1), "outside range")
	assert.Error(t, ValidateFloatRange(-0.1, 0, 1))
}

func TestValidatePositiveDuration(t *testing.T) {
	assert.NoError(t, ValidatePositiveDuration(time.Nanosecond))
	assert.ErrorContains(t, ValidatePositiveDuration(0), "must be positive")
	assert.Error(t, ValidatePositiveDuration(-time.Second))
}

func TestValidateOneOf(t *testing.T) {
	v := ValidateOneOf("memory", "badger", "postgres", "redis")
	assert.NoError(t, v("badger"))
	assert.ErrorContains(t, v("sqlite"), "is not one of")
	assert.Error(t, v(""))
}
