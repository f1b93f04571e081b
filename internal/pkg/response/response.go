package response

import (
	"errors"

	"github.com/gin-gonic/gin"
)

// Coder é implementado por erros que carregam um código estável (ex.: provider.Error).
type Coder interface {
	ErrorCode() string
}

func Success(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func Error(c *gin.Context, status int, err error) {
	body := gin.H{"success": false, "error": err.Error()}
	var coded Coder
	if errors.As(err, &coded) {
		body["code"] = coded.ErrorCode()
	}
	c.JSON(status, body)
}

func ErrorWithMessage(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "error": message})
}
