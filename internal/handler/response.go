package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"qrattendance/internal/attendance"
)

// Envelope is the response shape of every JSON endpoint.
type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
	Message string     `json:"message,omitempty"`
	Count   *int       `json:"count,omitempty"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Code    string                  `json:"code"`
	Message string                  `json:"message"`
	Fields  []attendance.FieldError `json:"fields,omitempty"`
}

func ok(c *gin.Context, status int, data any, msg string) {
	c.JSON(status, Envelope{Success: true, Data: data, Message: msg})
}

func okList(c *gin.Context, data any, count int) {
	c.JSON(http.StatusOK, Envelope{Success: true, Data: data, Count: &count})
}

func failWith(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, Envelope{Error: &ErrorBody{Code: code, Message: msg}})
}

// fail maps registry errors onto the envelope. Anything without a business
// code is logged and reported as INTERNAL.
func fail(c *gin.Context, err error) {
	var e *attendance.Error
	if errors.As(err, &e) {
		c.AbortWithStatusJSON(attendance.HTTPStatus(err), Envelope{
			Error: &ErrorBody{Code: string(e.Code), Message: e.Message, Fields: e.Fields},
		})
		return
	}
	log.Printf("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
	failWith(c, http.StatusInternalServerError, string(attendance.CodeInternal), "internal server error")
}

func badBody(c *gin.Context, err error) {
	failWith(c, http.StatusBadRequest, string(attendance.CodeValidation), "invalid JSON body: "+err.Error())
}
