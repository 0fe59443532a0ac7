package handlers

import (
	"net/http"

	"github.com/MoSam007/MicasaWeb/services"
	"github.com/MoSam007/MicasaWeb/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain errors to HTTP responses.
// The error field of the body carries the error code when there is one.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	errType := services.GetErrorType(err)
	status := services.HTTPStatus(err)
	code := string(services.GetErrorCode(err))
	message := services.GetErrorMessage(err)
	details := services.GetErrorDetails(err)

	switch {
	case errType == "":
		// Not a domain error: never leak its text
		logger.Error("unhandled error type", zap.Error(err))
		message = "An unexpected error occurred"
		details = nil
	case status == http.StatusInternalServerError:
		logger.Error("internal server error", zap.Error(err))
		message = "An internal error occurred"
		details = nil
	default:
		logger.Debug("handled service error",
			zap.String("type", string(errType)),
			zap.String("code", code),
			zap.Error(err))
	}

	if werr := utils.WriteCodedError(w, status, code, message, details); werr != nil {
		logger.Error("failed to write error response", zap.Error(werr))
	}
}

// HandleValidationError handles errors from decoding and validating a request body.
// A failing role field surfaces as role_invalid; any other field as bad_request.
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{}, len(fields))
		for k, v := range fields {
			details[k] = v
		}
		base := services.ErrInvalidInput
		if _, ok := fields["role"]; ok {
			base = services.ErrRoleInvalid
		}
		domainErr := base.Wrap(err)
		domainErr.Details = details
		HandleServiceError(w, domainErr, logger)
		return
	}

	HandleServiceError(w, services.ErrInvalidInput.Wrap(err), logger)
}
