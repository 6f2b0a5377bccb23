package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrSessionActive      ErrCode = "SESSION_ALREADY_ACTIVE"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrCandidateTokenOnly ErrCode = "CANDIDATE_TOKEN_REQUIRED"
	ErrExamTokenOnly      ErrCode = "EXAM_TOKEN_REQUIRED"
	ErrNotEligible        ErrCode = "NOT_ELIGIBLE"
	ErrNotAttemptOwner    ErrCode = "NOT_ATTEMPT_OWNER"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Exam-specific ─────────────────────────────────────────────────
	ErrOutsideExamWindow     ErrCode = "OUTSIDE_EXAM_WINDOW"
	ErrAlreadySubmitted      ErrCode = "ALREADY_SUBMITTED"
	ErrAttemptTerminal       ErrCode = "ATTEMPT_TERMINAL"
	ErrTimeExpired           ErrCode = "TIME_EXPIRED"
	ErrQuestionNotInPaper    ErrCode = "QUESTION_NOT_IN_PAPER"
	ErrInsufficientQuestions ErrCode = "INSUFFICIENT_QUESTIONS"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrStoreUnavailable ErrCode = "STORE_UNAVAILABLE"
	ErrInternal         ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Email atau kata sandi salah."
	case ErrSessionActive:
		return "Ujian Anda sedang aktif di perangkat lain."
	case ErrSessionInvalidated:
		return "Sesi ujian Anda telah berakhir. Silakan mulai ulang dari perangkat ini."
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrCandidateTokenOnly:
		return "Gunakan token login peserta."
	case ErrExamTokenOnly:
		return "Gunakan token sesi ujian."
	case ErrNotEligible:
		return "Anda belum dinyatakan diterima untuk mengikuti ujian ini."
	case ErrNotAttemptOwner:
		return "Percobaan ujian ini milik peserta lain."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."

	// ─── Exam-specific ─────────────────────────────────────────────────
	case ErrOutsideExamWindow:
		return "Ujian hanya dapat dimulai pada jadwal yang ditentukan."
	case ErrAlreadySubmitted:
		return "Anda sudah menyelesaikan ujian ini."
	case ErrAttemptTerminal:
		return "Ujian ini sudah dikumpulkan."
	case ErrTimeExpired:
		return "Waktu ujian telah habis."
	case ErrQuestionNotInPaper:
		return "Soal tidak termasuk dalam ujian Anda."
	case ErrInsufficientQuestions:
		return "Bank soal belum siap. Silakan hubungi panitia."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrStoreUnavailable:
		return "Layanan sedang sibuk. Silakan coba lagi sebentar lagi."
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
