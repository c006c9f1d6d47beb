package service

import "errors"

// 业务层通用错误，handler 可根据错误类型映射到合适的 HTTP 状态码。
var (
	ErrEmailTaken          = errors.New("email taken")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrPasswordMismatch    = errors.New("passwords do not match")
	ErrRefreshTokenInvalid = errors.New("refresh token invalid or revoked")
	ErrVerificationInvalid = errors.New("verification token invalid or expired")
	ErrAlreadyVerified     = errors.New("account already verified")
	ErrAccountNotFound     = errors.New("account not found")
	ErrProfileNotFound     = errors.New("profile not found")
	ErrRoomNotFound        = errors.New("room not found")
	ErrNotMember           = errors.New("not a member of this room")
	ErrInvitationInvalid   = errors.New("invitation invalid or expired")
	ErrEmptyMessage        = errors.New("message body is empty")
)

var domainErrors = []error{
	ErrEmailTaken, ErrInvalidCredentials, ErrPasswordMismatch, ErrRefreshTokenInvalid,
	ErrVerificationInvalid, ErrAlreadyVerified, ErrAccountNotFound, ErrProfileNotFound,
	ErrRoomNotFound, ErrNotMember, ErrInvitationInvalid, ErrEmptyMessage,
}

// BackendError 包装存储、消息日志等后端返回的错误，Op 标明失败的操作。
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *BackendError) Unwrap() error { return e.Err }

// backend 把后端错误包装为 *BackendError；nil、业务错误和已包装的错误原样返回。
func backend(op string, err error) error {
	if err == nil {
		return nil
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	for _, d := range domainErrors {
		if errors.Is(err, d) {
			return err
		}
	}
	return &BackendError{Op: op, Err: err}
}
