package api

import (
	"context"
	"errors"
	"net/http"

	"OutlierScope/internal/domain/models"
	domrepo "OutlierScope/internal/domain/repository"
	"OutlierScope/internal/usecase"
	xhttp "OutlierScope/pkg/http"
	"OutlierScope/pkg/queue"
)

// statusClientClosed is reported when the caller went away mid-request.
const statusClientClosed = 499

var errJobsDisabled = errors.New("job queue disabled")

// toAppError maps usecase and repository failures to API errors.
func toAppError(err error) *xhttp.AppError {
	var appErr *xhttp.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var de *models.DetectionError
	if errors.As(err, &de) {
		switch de.Kind {
		case models.KindInvalidInput:
			return xhttp.NewAppError(xhttp.CodeInvalidInput, de.Field, de.Error(), http.StatusBadRequest).WithError(err)
		case models.KindUnsupportedMethod:
			return xhttp.NewAppError(xhttp.CodeUnsupportedMethod, de.Field, de.Error(), http.StatusBadRequest).
				WithParam("supported", models.SupportedMethods).WithError(err)
		case models.KindFitFailure:
			return xhttp.NewAppError(xhttp.CodeFitFailure, de.Field, de.Error(), http.StatusInternalServerError).WithError(err)
		}
	}
	switch {
	case errors.Is(err, usecase.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return xhttp.NewAppError(xhttp.CodeTimeout, "", err.Error(), http.StatusGatewayTimeout).WithError(err)
	case errors.Is(err, context.Canceled):
		return xhttp.NewAppError(xhttp.CodeCanceled, "", "request canceled", statusClientClosed).WithError(err)
	case errors.Is(err, domrepo.ErrRunNotFound):
		return xhttp.NotFoundErrorf("run not found").WithError(err)
	case errors.Is(err, queue.ErrJobNotFound):
		return xhttp.NotFoundErrorf("job not found").WithError(err)
	case errors.Is(err, usecase.ErrNoStore), errors.Is(err, errJobsDisabled):
		return xhttp.UnavailableErrorf("%v", err).WithError(err)
	}
	return xhttp.InternalError("internal error").WithError(err)
}
