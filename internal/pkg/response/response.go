package response

import "github.com/gin-gonic/gin"

// APIError is the body of every non-2xx response.
type APIError struct {
	Detail     string `json:"detail"`
	StatusCode int    `json:"status_code"`
	Error      string `json:"error"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(200, data)
}

func Error(c *gin.Context, status int, code, detail string) {
	c.JSON(status, APIError{Detail: detail, StatusCode: status, Error: code})
}
