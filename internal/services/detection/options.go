package detection

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"

	"OutlierScope/internal/domain/models"
)

// Toggle is a seasonality switch: "auto", "true" or "false".
// It also accepts JSON booleans.
type Toggle string

const (
	ToggleAuto Toggle = "auto"
	ToggleOn   Toggle = "true"
	ToggleOff  Toggle = "false"
)

func (t *Toggle) UnmarshalJSON(b []byte) error {
	var on bool
	if err := json.Unmarshal(b, &on); err == nil {
		if on {
			*t = ToggleOn
		} else {
			*t = ToggleOff
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("seasonality toggle must be a bool or string: %w", err)
	}
	*t = Toggle(strings.ToLower(s))
	return nil
}

// Enabled resolves the toggle against the automatic rule.
func (t Toggle) Enabled(auto bool) bool {
	switch t {
	case ToggleOn:
		return true
	case ToggleOff:
		return false
	default:
		return auto
	}
}

// TrendOptions configures the trend model detector.
type TrendOptions struct {
	BandWidth             float64 `json:"band_width" default:"0.99" validate:"gt=0,lt=1"`
	NChangepoints         int     `json:"n_changepoints" default:"25" validate:"gte=0,lte=500"`
	ChangepointRange      float64 `json:"changepoint_range" default:"0.8" validate:"gt=0,lte=1"`
	ChangepointPriorScale float64 `json:"changepoint_prior_scale" default:"0.05" validate:"gt=0"`
	SeasonalityPriorScale float64 `json:"seasonality_prior_scale" default:"10" validate:"gt=0"`
	YearlySeasonality     Toggle  `json:"yearly_seasonality" default:"auto" validate:"oneof=auto true false"`
	WeeklySeasonality     Toggle  `json:"weekly_seasonality" default:"auto" validate:"oneof=auto true false"`
	DailySeasonality      Toggle  `json:"daily_seasonality" default:"auto" validate:"oneof=auto true false"`
}

// LocalOptions configures the local residual detector.
// A zero WindowSize is resolved against the series length.
type LocalOptions struct {
	SmoothingFraction  float64 `json:"smoothing_fraction" default:"0.2" validate:"gt=0,lte=1"`
	WindowSize         int     `json:"window_size" validate:"gte=0"`
	WindowMinPeriods   int     `json:"window_min_periods" default:"4" validate:"gte=1"`
	DeviationThreshold float64 `json:"deviation_threshold" default:"2.5" validate:"gt=0"`
	RobustIterations   int     `json:"robust_iterations" default:"3" validate:"gte=0,lte=20"`
}

// resolveWindow fills the length-dependent defaults for a series of n points.
func (o LocalOptions) resolveWindow(n int) LocalOptions {
	if o.WindowSize == 0 {
		o.WindowSize = int(o.SmoothingFraction * float64(n))
		if o.WindowSize < 2 {
			o.WindowSize = 2
		}
	}
	if o.WindowMinPeriods > o.WindowSize {
		o.WindowMinPeriods = o.WindowSize
	}
	return o
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Legacy option names still sent by older clients, mapped to the current keys.
var (
	trendAliases = map[string]string{
		"interval_width": "band_width",
	}
	localAliases = map[string]string{
		"frac":                       "smoothing_fraction",
		"rolling_window_size":        "window_size",
		"rolling_window_min_periods": "window_min_periods",
		"outlier_n_std":              "deviation_threshold",
	}
)

// ParseTrendOptions applies defaults and then the caller's options.
func ParseTrendOptions(raw map[string]any) (TrendOptions, error) {
	var o TrendOptions
	raw, err := renameAliases(raw, trendAliases)
	if err != nil {
		return o, err
	}
	err = resolveOptions(&o, raw)
	return o, err
}

// ParseLocalOptions applies defaults and then the caller's options.
func ParseLocalOptions(raw map[string]any) (LocalOptions, error) {
	var o LocalOptions
	raw, err := renameAliases(raw, localAliases)
	if err != nil {
		return o, err
	}
	err = resolveOptions(&o, raw)
	return o, err
}

// renameAliases returns a copy of raw with legacy keys renamed. Setting both a
// legacy key and its current name is rejected.
func renameAliases(raw map[string]any, aliases map[string]string) (map[string]any, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	for old, key := range aliases {
		v, ok := out[old]
		if !ok {
			continue
		}
		if _, dup := out[key]; dup {
			return nil, models.InvalidInputf("method_options."+old, "%s and %s set the same option", old, key)
		}
		delete(out, old)
		out[key] = v
	}
	return out, nil
}

// resolveOptions sets struct defaults, overlays raw (unknown keys are ignored) and validates.
func resolveOptions(dst any, raw map[string]any) error {
	if err := defaults.Set(dst); err != nil {
		return fmt.Errorf("set option defaults: %w", err)
	}
	if len(raw) > 0 {
		b, err := json.Marshal(raw)
		if err != nil {
			return models.InvalidInputf("method_options", "options are not serializable: %v", err)
		}
		if err := json.Unmarshal(b, dst); err != nil {
			var te *json.UnmarshalTypeError
			if errors.As(err, &te) {
				return models.InvalidInputf("method_options."+te.Field, "expected %s, got %s", te.Type, te.Value)
			}
			return models.InvalidInputf("method_options", "%v", err)
		}
	}
	if err := validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			fe := ve[0]
			return models.InvalidInputf("method_options."+fe.Field(), "%s failed %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value())
		}
		return models.InvalidInputf("method_options", "%v", err)
	}
	return nil
}
