// FILE: internal/dto/response_dto.go
// Wire envelope shared by every /api endpoint
package dto

// BaseResponse is the success envelope: { success, code, message, data }.
type BaseResponse[T any] struct {
	Success bool   `json:"success"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// ErrorResponse is the failure envelope. Errors is only present for 400/422.
type ErrorResponse struct {
	Success bool                `json:"success"`
	Code    int                 `json:"code"`
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

func SuccessResponse[T any](message string, data T) BaseResponse[T] {
	return BaseResponse[T]{
		Success: true,
		Code:    200,
		Message: message,
		Data:    data,
	}
}

func NewErrorResponse(code int, message string) ErrorResponse {
	return ErrorResponse{
		Success: false,
		Code:    code,
		Message: message,
	}
}

func NewValidationErrorResponse(code int, message string, errors map[string][]string) ErrorResponse {
	return ErrorResponse{
		Success: false,
		Code:    code,
		Message: message,
		Errors:  errors,
	}
}
