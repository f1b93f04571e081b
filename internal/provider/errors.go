package provider

import (
	"errors"
	"net/http"
)

type Code string

const (
	CodeConfiguration       Code = "CONFIGURATION_ERROR"
	CodeUnknownProvider     Code = "UNKNOWN_PROVIDER"
	CodeIntegrationNotFound Code = "INTEGRATION_NOT_FOUND"
	CodeInvalidCredentials  Code = "INVALID_CREDENTIALS"
	CodeResolutionAmbiguous Code = "RESOLUTION_AMBIGUOUS"
	CodeProviderAPI         Code = "PROVIDER_API_ERROR"
	CodePersistence         Code = "PERSISTENCE_ERROR"
	CodeMalformedPayload    Code = "MALFORMED_PAYLOAD"
)

var statusByCode = map[Code]int{
	CodeConfiguration:       http.StatusBadRequest,
	CodeUnknownProvider:     http.StatusBadRequest,
	CodeIntegrationNotFound: http.StatusNotFound,
	CodeInvalidCredentials:  http.StatusForbidden,
	CodeResolutionAmbiguous: http.StatusConflict,
	CodeProviderAPI:         http.StatusBadGateway,
	CodePersistence:         http.StatusInternalServerError,
	CodeMalformedPayload:    http.StatusBadRequest,
}

type Error struct {
	Code    Code
	Message string
	Status  int
	Err     error
}

func NewError(code Code, message string, err error) *Error {
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &Error{Code: code, Message: message, Status: status, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) ErrorCode() string {
	return string(e.Code)
}

func IsCode(err error, code Code) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Code == code
}

// HTTPStatus devolve o status associado ao erro; 500 para erros sem código.
func HTTPStatus(err error) int {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Status
	}
	return http.StatusInternalServerError
}
