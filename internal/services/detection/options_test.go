package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"OutlierScope/internal/domain/models"
)

func TestParseTrendOptionsDefaults(t *testing.T) {
	o, err := ParseTrendOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, 0.99, o.BandWidth)
	assert.Equal(t, 25, o.NChangepoints)
	assert.Equal(t, 0.8, o.ChangepointRange)
	assert.Equal(t, ToggleAuto, o.WeeklySeasonality)
}

func TestParseTrendOptionsOverrides(t *testing.T) {
	o, err := ParseTrendOptions(map[string]any{
		"band_width":         0.9,
		"n_changepoints":     0,
		"weekly_seasonality": false,
		"daily_seasonality":  "TRUE",
		"not_an_option":      "ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, 0.9, o.BandWidth)
	assert.Equal(t, 0, o.NChangepoints, "explicit zero must survive defaults")
	assert.Equal(t, ToggleOff, o.WeeklySeasonality)
	assert.Equal(t, ToggleOn, o.DailySeasonality)
	assert.Equal(t, 0.05, o.ChangepointPriorScale)
}

func TestParseOptionsRejectsBadValues(t *testing.T) {
	cases := []struct {
		name  string
		parse func() error
		field string
	}{
		{"band width out of range", func() error {
			_, err := ParseTrendOptions(map[string]any{"band_width": 1.5})
			return err
		}, "method_options.band_width"},
		{"wrong type", func() error {
			_, err := ParseLocalOptions(map[string]any{"window_size": "wide"})
			return err
		}, "method_options.window_size"},
		{"bad toggle", func() error {
			_, err := ParseTrendOptions(map[string]any{"yearly_seasonality": "sometimes"})
			return err
		}, "method_options.yearly_seasonality"},
		{"negative threshold", func() error {
			_, err := ParseLocalOptions(map[string]any{"deviation_threshold": -1})
			return err
		}, "method_options.deviation_threshold"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.parse()
			require.ErrorIs(t, err, models.ErrInvalidInput)
			var de *models.DetectionError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tc.field, de.Field)
		})
	}
}

func TestParseOptionsAcceptsLegacyKeys(t *testing.T) {
	raw := map[string]any{
		"frac":                       0.3,
		"rolling_window_size":        12,
		"rolling_window_min_periods": 3,
		"outlier_n_std":              3.5,
	}
	o, err := ParseLocalOptions(raw)
	require.NoError(t, err)
	assert.Equal(t, 0.3, o.SmoothingFraction)
	assert.Equal(t, 12, o.WindowSize)
	assert.Equal(t, 3, o.WindowMinPeriods)
	assert.Equal(t, 3.5, o.DeviationThreshold)
	assert.Contains(t, raw, "frac", "caller map is not modified")

	tr, err := ParseTrendOptions(map[string]any{"interval_width": 0.95})
	require.NoError(t, err)
	assert.Equal(t, 0.95, tr.BandWidth)

	_, err = ParseLocalOptions(map[string]any{"frac": 0.3, "smoothing_fraction": 0.4})
	var de *models.DetectionError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "method_options.frac", de.Field)

	_, err = ParseLocalOptions(map[string]any{"outlier_n_std": -1})
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "method_options.deviation_threshold", de.Field)
}

func TestLocalOptionsResolveWindow(t *testing.T) {
	o, err := ParseLocalOptions(nil)
	require.NoError(t, err)

	r := o.resolveWindow(360)
	assert.Equal(t, 72, r.WindowSize)
	assert.Equal(t, 4, r.WindowMinPeriods)

	r = o.resolveWindow(5)
	assert.Equal(t, 2, r.WindowSize)
	assert.Equal(t, 2, r.WindowMinPeriods, "min periods is clamped to the window")

	o.WindowSize = 10
	assert.Equal(t, 10, o.resolveWindow(1000).WindowSize)
}
