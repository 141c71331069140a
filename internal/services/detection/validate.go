package detection

import (
	"errors"
	"math"

	"github.com/go-playground/validator/v10"

	"OutlierScope/internal/domain/models"
)

var seriesFields = map[string]string{
	"Timestamps":    "timestamps",
	"Values":        "values",
	"MaxIterations": "max_iterations",
}

// ValidateSeries checks the structural invariants of a series before any fit.
func ValidateSeries(in models.SeriesInput) error {
	if err := validate.Struct(in); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			fe := ve[0]
			field := seriesFields[fe.StructField()]
			return models.InvalidInputf(field, "%s failed %s%s", field, fe.Tag(), tagParam(fe.Param()))
		}
		return models.InvalidInputf("", "%v", err)
	}

	if len(in.Timestamps) != len(in.Values) {
		return models.InvalidInputf("values", "got %d values for %d timestamps", len(in.Values), len(in.Timestamps))
	}
	for i, v := range in.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return models.InvalidInputf("values", "value at index %d is not finite", i)
		}
	}
	for i := 1; i < len(in.Timestamps); i++ {
		if !in.Timestamps[i].After(in.Timestamps[i-1]) {
			return models.InvalidInputf("timestamps", "timestamps must be strictly increasing (index %d)", i)
		}
	}
	return nil
}

func tagParam(p string) string {
	if p == "" {
		return ""
	}
	return "=" + p
}
