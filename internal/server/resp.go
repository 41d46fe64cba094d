package server

import (
	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Error string `json:"error"`
}

// RespondError sends {"error": message} with the given status.
func RespondError(c *gin.Context, httpStatus int, message string) {
	c.JSON(httpStatus, errorResponse{Error: message})
}

// RespondData sends data as the whole JSON body.
func RespondData(c *gin.Context, httpStatus int, data any) {
	c.JSON(httpStatus, data)
}
