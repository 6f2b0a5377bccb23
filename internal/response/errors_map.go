package response

import (
	"errors"
	"net/http"

	"github.com/stemsi/exstem-attempt/internal/service"
)

// domainErrors maps exam core sentinels to a status and code.
var domainErrors = []struct {
	err    error
	status int
	code   ErrCode
}{
	{service.ErrOutsideExamWindow, http.StatusForbidden, ErrOutsideExamWindow},
	{service.ErrNotEligible, http.StatusForbidden, ErrNotEligible},
	{service.ErrSessionAlreadyActive, http.StatusConflict, ErrSessionActive},
	{service.ErrAlreadySubmitted, http.StatusConflict, ErrAlreadySubmitted},
	{service.ErrAttemptTerminal, http.StatusConflict, ErrAttemptTerminal},
	{service.ErrTimeExpired, http.StatusGone, ErrTimeExpired},
	{service.ErrQuestionNotInPaper, http.StatusUnprocessableEntity, ErrQuestionNotInPaper},
	{service.ErrInsufficientQuestions, http.StatusServiceUnavailable, ErrInsufficientQuestions},
	{service.ErrInvalidCredential, http.StatusUnauthorized, ErrInvalidCredentials},
	{service.ErrAttemptNotFound, http.StatusNotFound, ErrNotFound},
	{service.ErrNotAttemptOwner, http.StatusForbidden, ErrNotAttemptOwner},
	{service.ErrStoreUnavailable, http.StatusServiceUnavailable, ErrStoreUnavailable},
}

// FromError resolves a service error into an HTTP status and error code.
// Unknown errors map to 500 INTERNAL_ERROR.
func FromError(err error) (int, ErrCode) {
	for _, d := range domainErrors {
		if errors.Is(err, d.err) {
			return d.status, d.code
		}
	}
	return http.StatusInternalServerError, ErrInternal
}
