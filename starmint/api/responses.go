package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/starmint/starmint/starmint/economy/utils"
)

// Response is the envelope of every JSON reply.
type Response struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     *APIError `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func SendJSON(c *fiber.Ctx, statusCode int, data any) error {
	return c.Status(statusCode).JSON(data)
}

func SendSuccess(c *fiber.Ctx, data any) error {
	return SendJSON(c, http.StatusOK, &Response{Success: true, Data: data, Timestamp: time.Now().UTC()})
}

func SendCreated(c *fiber.Ctx, data any) error {
	return SendJSON(c, http.StatusCreated, &Response{Success: true, Data: data, Timestamp: time.Now().UTC()})
}

func SendError(c *fiber.Ctx, statusCode int, code, message string, details map[string]any) error {
	return SendJSON(c, statusCode, &Response{
		Error:     &APIError{Code: code, Message: message, Details: details},
		Timestamp: time.Now().UTC(),
	})
}

// StatusFor maps an economy error kind to its HTTP status.
func StatusFor(kind utils.ErrorKind) int {
	switch kind {
	case utils.KindValidation:
		return http.StatusUnprocessableEntity
	case utils.KindConflict:
		return http.StatusConflict
	case utils.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHandler renders every error returned by a handler. Economy errors keep
// their code and details; infrastructure causes are never echoed back.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var ee *utils.EconomyError
	if errors.As(err, &ee) {
		if ee.Kind == utils.KindOperationFailed {
			return SendError(c, http.StatusInternalServerError, ee.Code, ee.Message, nil)
		}
		return SendError(c, StatusFor(ee.Kind), ee.Code, ee.Message, ee.Details)
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code := strings.ToUpper(strings.ReplaceAll(http.StatusText(fe.Code), " ", "_"))
		return SendError(c, fe.Code, code, fe.Message, nil)
	}

	return SendError(c, http.StatusInternalServerError, utils.CodeOperationFailed, "internal server error", nil)
}

func invalidInput(format string, args ...any) error {
	return utils.Validation(utils.CodeInvalidInput, format, args...)
}
