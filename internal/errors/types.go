package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 存储错误
	ErrCodeConnection ErrorCode = "CONNECTION_ERROR"
	ErrCodeQuery      ErrorCode = "QUERY_ERROR"

	// 向量错误
	ErrCodeDimensionMismatch ErrorCode = "DIMENSION_MISMATCH"

	// 业务逻辑错误
	ErrCodeModelNotFound      ErrorCode = "MODEL_NOT_FOUND"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeDocumentTooLarge   ErrorCode = "DOCUMENT_TOO_LARGE"
	ErrCodeChunkCountExceeded ErrorCode = "CHUNK_COUNT_EXCEEDED"

	// 外部服务错误
	ErrCodeProvider ErrorCode = "PROVIDER_ERROR"

	// 验证错误
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	// 通用错误
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// ErrorType 错误类型
type ErrorType int

const (
	ErrorTypeSystem ErrorType = iota
	ErrorTypeBusiness
	ErrorTypeValidation
	ErrorTypeExternal
)

// AppError 应用错误结构体
type AppError struct {
	Code     ErrorCode   `json:"code"`
	Message  string      `json:"message"`
	Type     ErrorType   `json:"type"`
	HTTPCode int         `json:"-"`
	Details  interface{} `json:"details,omitempty"`
	Cause    error       `json:"-"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails 添加错误详情
func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause 添加错误原因
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// 错误构造函数

// NewConnectionError 创建存储连接错误
func NewConnectionError(message string, cause error) *AppError {
	return &AppError{
		Code:     ErrCodeConnection,
		Message:  message,
		Type:     ErrorTypeSystem,
		HTTPCode: http.StatusServiceUnavailable,
		Cause:    cause,
	}
}

// NewQueryError 创建查询错误
func NewQueryError(message string, cause error) *AppError {
	return &AppError{
		Code:     ErrCodeQuery,
		Message:  message,
		Type:     ErrorTypeSystem,
		HTTPCode: http.StatusInternalServerError,
		Cause:    cause,
	}
}

// NewDimensionMismatchError 创建向量维度不匹配错误
func NewDimensionMismatchError(want, got int) *AppError {
	return &AppError{
		Code:     ErrCodeDimensionMismatch,
		Message:  fmt.Sprintf("vector dimensions mismatch: collection expects %d, got %d", want, got),
		Type:     ErrorTypeValidation,
		HTTPCode: http.StatusBadRequest,
	}
}

// NewModelNotFoundError 创建模型未找到错误
func NewModelNotFoundError(modelID string) *AppError {
	return &AppError{
		Code:     ErrCodeModelNotFound,
		Message:  fmt.Sprintf("embedding model '%s' not found", modelID),
		Type:     ErrorTypeBusiness,
		HTTPCode: http.StatusNotFound,
	}
}

// NewNotFoundError 创建资源未找到错误
func NewNotFoundError(resource, id string) *AppError {
	return &AppError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("%s '%s' not found", resource, id),
		Type:     ErrorTypeBusiness,
		HTTPCode: http.StatusNotFound,
	}
}

// NewDocumentTooLargeError 创建文档过大错误
func NewDocumentTooLargeError(size, limit int64) *AppError {
	return &AppError{
		Code:     ErrCodeDocumentTooLarge,
		Message:  fmt.Sprintf("document size %d exceeds maximum limit %d", size, limit),
		Type:     ErrorTypeValidation,
		HTTPCode: http.StatusRequestEntityTooLarge,
	}
}

// NewChunkCountExceededError 创建分块数量超限错误
func NewChunkCountExceededError(count, limit int) *AppError {
	return &AppError{
		Code:     ErrCodeChunkCountExceeded,
		Message:  fmt.Sprintf("document chunk count %d exceeds maximum limit %d", count, limit),
		Type:     ErrorTypeValidation,
		HTTPCode: http.StatusRequestEntityTooLarge,
	}
}

// NewProviderError 创建嵌入服务错误
func NewProviderError(message string, cause error) *AppError {
	return &AppError{
		Code:     ErrCodeProvider,
		Message:  message,
		Type:     ErrorTypeExternal,
		HTTPCode: http.StatusBadGateway,
		Cause:    cause,
	}
}

// NewValidationError 创建验证错误
func NewValidationError(message string) *AppError {
	return &AppError{
		Code:     ErrCodeValidationFailed,
		Message:  message,
		Type:     ErrorTypeValidation,
		HTTPCode: http.StatusBadRequest,
	}
}

// IsCode 判断错误链中是否包含指定错误码
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// GetAppError 获取AppError，如果不是则包装为系统错误
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return &AppError{
		Code:     ErrCodeInternal,
		Message:  "internal error",
		Type:     ErrorTypeSystem,
		HTTPCode: http.StatusInternalServerError,
		Cause:    err,
	}
}
