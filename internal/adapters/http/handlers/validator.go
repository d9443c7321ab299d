// Package handlers contains the HTTP handlers for the REST API.
//
// A handler is an adapter: it parses the HTTP request into a command or
// query DTO, invokes a use case through a narrow interface, and renders
// the result into the response envelope. No business rules live here.
package handlers

import (
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/payflowhq/payflow/internal/adapters/http/common"
)

// ============================================
// Custom Validator Setup
// ============================================

var (
	setupOnce sync.Once
)

// SetupValidator registers the custom validators with gin's binding engine.
func SetupValidator() {
	setupOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			// Report field names by their json tag.
			v.RegisterTagNameFunc(func(fld reflect.StructField) string {
				name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
				if name == "-" {
					return ""
				}
				return name
			})

			_ = v.RegisterValidation("currency_code", validateCurrencyCode)
			_ = v.RegisterValidation("money_amount", validateMoneyAmount)
			_ = v.RegisterValidation("transaction_type", validateTransactionType)
			_ = v.RegisterValidation("transaction_status", validateTransactionStatus)
		}
	})
}

// ============================================
// Custom Validators
// ============================================

// validateCurrencyCode checks for a 3-letter uppercase code.
func validateCurrencyCode(fl validator.FieldLevel) bool {
	code := fl.Field().String()
	if len(code) != 3 {
		return false
	}

	for _, c := range code {
		if c < 'A' || c > 'Z' {
			return false
		}
	}

	return true
}

// validateMoneyAmount checks the decimal string format. Amounts carry at
// most two fraction digits, matching the storage precision.
var moneyPattern = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)

func validateMoneyAmount(fl validator.FieldLevel) bool {
	amount := fl.Field().String()
	return moneyPattern.MatchString(amount)
}

// validateTransactionType checks the transaction type.
func validateTransactionType(fl validator.FieldLevel) bool {
	txType := fl.Field().String()
	validTypes := map[string]bool{
		"PAYMENT":    true,
		"REFUND":     true,
		"CHARGEBACK": true,
	}
	return validTypes[txType]
}

// validateTransactionStatus checks the transaction status.
func validateTransactionStatus(fl validator.FieldLevel) bool {
	status := fl.Field().String()
	validStatuses := map[string]bool{
		"PENDING":              true,
		"PROCESSING":           true,
		"COMPLETED":            true,
		"FAILED":               true,
		"ROLLED_BACK":          true,
		"RECOVERY_PENDING":     true,
		"RECOVERY_IN_PROGRESS": true,
	}
	return validStatuses[status]
}

// ============================================
// Validation Error Handling
// ============================================

// HandleValidationErrors renders binding errors into the response envelope.
func HandleValidationErrors(c *gin.Context, err error) {
	var fieldErrors []common.FieldError

	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		for _, fieldErr := range validationErrors {
			fieldErrors = append(fieldErrors, common.FieldError{
				Field:   fieldErr.Field(),
				Message: getValidationMessage(fieldErr),
				Code:    fieldErr.Tag(),
			})
		}
	}

	if len(fieldErrors) == 0 {
		common.BadRequestResponse(c, "Invalid request body: "+err.Error())
		return
	}

	common.ValidationErrorResponse(c, fieldErrors)
}

// getValidationMessage returns a human-readable message per validation tag.
func getValidationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "uuid":
		return "Invalid UUID format"
	case "min":
		return "Value is too short (minimum: " + fe.Param() + ")"
	case "max":
		return "Value is too long (maximum: " + fe.Param() + ")"
	case "len":
		return "Value must be exactly " + fe.Param() + " characters"
	case "oneof":
		return "Value must be one of: " + fe.Param()
	case "currency_code":
		return "Invalid currency code (must be 3 uppercase letters)"
	case "money_amount":
		return "Invalid amount format (use decimal like '100.50')"
	case "transaction_type":
		return "Invalid transaction type"
	case "transaction_status":
		return "Invalid transaction status"
	default:
		return "Invalid value"
	}
}

// ============================================
// Request Parsing Helpers
// ============================================

// BindJSON binds the JSON body into req. Returns false when binding failed;
// in that case the error response has already been written.
func BindJSON[T any](c *gin.Context, req *T) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		HandleValidationErrors(c, err)
		return false
	}
	return true
}

// BindQuery binds query parameters.
func BindQuery[T any](c *gin.Context, req *T) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		HandleValidationErrors(c, err)
		return false
	}
	return true
}

// BindURI binds URI parameters.
func BindURI[T any](c *gin.Context, req *T) bool {
	if err := c.ShouldBindUri(req); err != nil {
		HandleValidationErrors(c, err)
		return false
	}
	return true
}

// ============================================
// Pagination Helper
// ============================================

// PaginationParams carries limit/offset paging parsed from the query string.
type PaginationParams struct {
	Limit  int `form:"limit" binding:"min=1,max=100"`
	Offset int `form:"offset" binding:"min=0"`
}

// DefaultPaginationParams returns the defaults used when the client sends
// no paging parameters.
func DefaultPaginationParams() PaginationParams {
	return PaginationParams{
		Limit:  50,
		Offset: 0,
	}
}

// ParsePagination reads limit/offset from the query string, falling back to
// defaults for missing or out-of-range values.
func ParsePagination(c *gin.Context) PaginationParams {
	params := DefaultPaginationParams()

	if limit := c.Query("limit"); limit != "" {
		if l := parseInt(limit); l > 0 && l <= 100 {
			params.Limit = l
		}
	}

	if offset := c.Query("offset"); offset != "" {
		if o := parseInt(offset); o > 0 {
			params.Offset = o
		}
	}

	return params
}

// parseInt parses a non-negative integer, returning 0 on any other input.
func parseInt(s string) int {
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// BuildMeta builds the pagination meta for a list response.
func BuildMeta(params PaginationParams, count int) *common.APIMeta {
	return &common.APIMeta{
		Limit:  params.Limit,
		Offset: params.Offset,
		Count:  count,
	}
}
