package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/yungbote/archsheet-backend/internal/pkg/errors"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// RespondDomainError maps pipeline sentinel errors onto HTTP statuses.
func RespondDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperrors.ErrLockContention):
		RespondError(c, http.StatusConflict, "run_in_progress", err)
	case errors.Is(err, apperrors.ErrInvalidArgument):
		RespondError(c, http.StatusBadRequest, "invalid_argument", err)
	case errors.Is(err, apperrors.ErrNotFound), errors.Is(err, apperrors.ErrBaselineMissing):
		RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, apperrors.ErrRetryBudgetExhausted):
		RespondError(c, http.StatusUnprocessableEntity, "retry_budget_exhausted", err)
	case errors.Is(err, apperrors.ErrContractViolation):
		RespondError(c, http.StatusUnprocessableEntity, "contract_violation", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal_error", err)
	}
}
