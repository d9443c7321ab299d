package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	SetupValidator() // Ensure validators are registered
}

// bindingProbe builds a router with a single POST route that binds the
// request into req and answers 200 or 400.
func bindingProbe[T any]() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/test", func(c *gin.Context) {
		var req T
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{})
	})
	return router
}

func probeJSON(router *gin.Engine, payload interface{}) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/test", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// ============================================
// Test Custom Validators
// ============================================

func TestValidateCurrencyCode(t *testing.T) {
	type TestRequest struct {
		Currency string `json:"currency" binding:"required,currency_code"`
	}
	router := bindingProbe[TestRequest]()

	t.Run("ValidCurrency", func(t *testing.T) {
		validCodes := []string{"USD", "EUR", "GBP", "JPY"}
		for _, code := range validCodes {
			w := probeJSON(router, TestRequest{Currency: code})
			assert.Equal(t, http.StatusOK, w.Code, "Currency %s should be valid", code)
		}
	})

	t.Run("InvalidCurrency", func(t *testing.T) {
		invalidCodes := []string{"US", "USDT", "usd", "U5D", "€UR"}
		for _, code := range invalidCodes {
			w := probeJSON(router, TestRequest{Currency: code})
			assert.Equal(t, http.StatusBadRequest, w.Code, "Currency %s should be invalid", code)
		}
	})
}

func TestValidateMoneyAmount(t *testing.T) {
	type TestRequest struct {
		Amount string `json:"amount" binding:"required,money_amount"`
	}
	router := bindingProbe[TestRequest]()

	t.Run("ValidAmounts", func(t *testing.T) {
		validAmounts := []string{"100", "100.50", "0.01", "12.5", "1000000.99"}
		for _, amount := range validAmounts {
			w := probeJSON(router, TestRequest{Amount: amount})
			assert.Equal(t, http.StatusOK, w.Code, "Amount %s should be valid", amount)
		}
	})

	t.Run("InvalidAmounts", func(t *testing.T) {
		invalidAmounts := []string{"-100", "abc", "100.123", "1,000.00", ".50", "100.", ""}
		for _, amount := range invalidAmounts {
			w := probeJSON(router, TestRequest{Amount: amount})
			assert.Equal(t, http.StatusBadRequest, w.Code, "Amount %s should be invalid", amount)
		}
	})
}

func TestValidateTransactionType(t *testing.T) {
	type TestRequest struct {
		Type string `json:"type" binding:"required,transaction_type"`
	}
	router := bindingProbe[TestRequest]()

	t.Run("ValidTypes", func(t *testing.T) {
		validTypes := []string{"PAYMENT", "REFUND", "CHARGEBACK"}
		for _, txType := range validTypes {
			w := probeJSON(router, TestRequest{Type: txType})
			assert.Equal(t, http.StatusOK, w.Code, "Type %s should be valid", txType)
		}
	})

	t.Run("InvalidTypes", func(t *testing.T) {
		invalidTypes := []string{"DEPOSIT", "TRANSFER", "payment", "INVALID"}
		for _, txType := range invalidTypes {
			w := probeJSON(router, TestRequest{Type: txType})
			assert.Equal(t, http.StatusBadRequest, w.Code, "Type %s should be invalid", txType)
		}
	})
}

func TestValidateTransactionStatus(t *testing.T) {
	type TestRequest struct {
		Status string `json:"status" binding:"required,transaction_status"`
	}
	router := bindingProbe[TestRequest]()

	t.Run("ValidStatuses", func(t *testing.T) {
		validStatuses := []string{
			"PENDING", "PROCESSING", "COMPLETED", "FAILED",
			"ROLLED_BACK", "RECOVERY_PENDING", "RECOVERY_IN_PROGRESS",
		}
		for _, status := range validStatuses {
			w := probeJSON(router, TestRequest{Status: status})
			assert.Equal(t, http.StatusOK, w.Code, "Status %s should be valid", status)
		}
	})

	t.Run("InvalidStatuses", func(t *testing.T) {
		invalidStatuses := []string{"CANCELLED", "completed", "DONE", "INVALID"}
		for _, status := range invalidStatuses {
			w := probeJSON(router, TestRequest{Status: status})
			assert.Equal(t, http.StatusBadRequest, w.Code, "Status %s should be invalid", status)
		}
	})
}

// ============================================
// Test Pagination
// ============================================

func TestDefaultPaginationParams(t *testing.T) {
	params := DefaultPaginationParams()

	assert.Equal(t, 50, params.Limit)
	assert.Equal(t, 0, params.Offset)
}

func TestParsePagination(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("DefaultValues", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/test", nil)

		params := ParsePagination(c)

		assert.Equal(t, 50, params.Limit)
		assert.Equal(t, 0, params.Offset)
	})

	t.Run("CustomValues", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/test?limit=25&offset=75", nil)

		params := ParsePagination(c)

		assert.Equal(t, 25, params.Limit)
		assert.Equal(t, 75, params.Offset)
	})

	t.Run("NonNumericLimit_UsesDefault", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/test?limit=abc", nil)

		params := ParsePagination(c)

		assert.Equal(t, 50, params.Limit)
	})

	t.Run("ExceedsMaxLimit_UsesDefault", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/test?limit=200", nil)

		params := ParsePagination(c)

		assert.Equal(t, 50, params.Limit)
	})

	t.Run("NegativeOffset_UsesDefault", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/test?offset=-5", nil)

		params := ParsePagination(c)

		assert.Equal(t, 0, params.Offset)
	})
}

func TestBuildMeta(t *testing.T) {
	params := PaginationParams{Limit: 25, Offset: 75}
	meta := BuildMeta(params, 12)

	assert.Equal(t, 25, meta.Limit)
	assert.Equal(t, 75, meta.Offset)
	assert.Equal(t, 12, meta.Count)
}

// ============================================
// Test Bind Functions
// ============================================

func TestBindJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)

	type TestRequest struct {
		CustomerID string `json:"customerId" binding:"required"`
		Amount     string `json:"amount" binding:"required,money_amount"`
	}

	t.Run("Success", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		body := []byte(`{"customerId":"cust-001","amount":"100.50"}`)
		c.Request = httptest.NewRequest(http.MethodPost, "/test", bytes.NewBuffer(body))
		c.Request.Header.Set("Content-Type", "application/json")

		var req TestRequest
		result := BindJSON(c, &req)

		assert.True(t, result)
		assert.Equal(t, "cust-001", req.CustomerID)
	})

	t.Run("ValidationError", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		body := []byte(`{"customerId":"cust-001"}`) // Missing amount
		c.Request = httptest.NewRequest(http.MethodPost, "/test", bytes.NewBuffer(body))
		c.Request.Header.Set("Content-Type", "application/json")

		var req TestRequest
		result := BindJSON(c, &req)

		assert.False(t, result)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("MalformedJSON", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		body := []byte(`{"customerId": slipped`)
		c.Request = httptest.NewRequest(http.MethodPost, "/test", bytes.NewBuffer(body))
		c.Request.Header.Set("Content-Type", "application/json")

		var req TestRequest
		result := BindJSON(c, &req)

		assert.False(t, result)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestBindURI(t *testing.T) {
	gin.SetMode(gin.TestMode)

	type URIParams struct {
		ID string `uri:"id" binding:"required,uuid"`
	}

	t.Run("Success", func(t *testing.T) {
		router := gin.New()
		router.GET("/transactions/:id", func(c *gin.Context) {
			var params URIParams
			if BindURI(c, &params) {
				c.JSON(200, gin.H{"id": params.ID})
			}
		})

		req := httptest.NewRequest(http.MethodGet, "/transactions/550e8400-e29b-41d4-a716-446655440000", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("InvalidUUID", func(t *testing.T) {
		router := gin.New()
		router.GET("/transactions/:id", func(c *gin.Context) {
			var params URIParams
			if !BindURI(c, &params) {
				return
			}
			c.JSON(200, gin.H{})
		})

		req := httptest.NewRequest(http.MethodGet, "/transactions/not-a-uuid", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestBindQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)

	type QueryParams struct {
		Status string `form:"status" binding:"omitempty,transaction_status"`
		Type   string `form:"type" binding:"omitempty,transaction_type"`
	}

	t.Run("Success", func(t *testing.T) {
		router := gin.New()
		router.GET("/test", func(c *gin.Context) {
			var params QueryParams
			if BindQuery(c, &params) {
				c.JSON(200, gin.H{"status": params.Status, "type": params.Type})
			}
		})

		req := httptest.NewRequest(http.MethodGet, "/test?status=FAILED&type=PAYMENT", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("EmptyFiltersAllowed", func(t *testing.T) {
		router := gin.New()
		router.GET("/test", func(c *gin.Context) {
			var params QueryParams
			if BindQuery(c, &params) {
				c.JSON(200, gin.H{})
			}
		})

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("UnknownStatus", func(t *testing.T) {
		router := gin.New()
		router.GET("/test", func(c *gin.Context) {
			var params QueryParams
			if !BindQuery(c, &params) {
				return
			}
			c.JSON(200, gin.H{})
		})

		req := httptest.NewRequest(http.MethodGet, "/test?status=BOGUS", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestParseInt(t *testing.T) {
	tests := []struct {
		input    string
		expected int
	}{
		{"0", 0},
		{"1", 1},
		{"10", 10},
		{"123", 123},
		{"999", 999},
		{"abc", 0},
		{"12a", 0},
		{"-5", 0},
		{"", 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := parseInt(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestGetValidationMessage(t *testing.T) {
	// Exercises getValidationMessage through the full binding path.
	gin.SetMode(gin.TestMode)

	type TestRequest struct {
		IdempotencyKey string `json:"idempotencyKey" binding:"required,min=8,max=255"`
		Currency       string `json:"currency" binding:"currency_code"`
		Amount         string `json:"amount" binding:"money_amount"`
	}

	router := gin.New()
	router.POST("/test", func(c *gin.Context) {
		var req TestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			HandleValidationErrors(c, err)
			return
		}
		c.JSON(200, gin.H{})
	})

	send := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/test", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	t.Run("MinValidation", func(t *testing.T) {
		w := send(`{"idempotencyKey":"abc","currency":"USD","amount":"100"}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "too short")
		assert.Contains(t, w.Body.String(), "idempotencyKey")
	})

	t.Run("CurrencyValidation", func(t *testing.T) {
		w := send(`{"idempotencyKey":"order-2026-0001","currency":"usd","amount":"100"}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "3 uppercase letters")
	})

	t.Run("AmountValidation", func(t *testing.T) {
		w := send(`{"idempotencyKey":"order-2026-0001","currency":"USD","amount":"1.999"}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Invalid amount format")
	})
}
