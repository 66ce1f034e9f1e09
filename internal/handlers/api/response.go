package api

import (
	"github.com/Martin-Hayot/auction-house/pkg/errors"
	"github.com/gin-gonic/gin"
)

// JSONResponse sends a structured success response.
func JSONResponse(c *gin.Context, status int, data any, message string) {
	c.JSON(status, gin.H{
		"status":  status,
		"message": message,
		"data":    data,
	})
}

// JSONError sends a structured error response. The status code and kind
// come from the error taxonomy.
func JSONError(c *gin.Context, err error) {
	status := errors.HTTPStatus(err)
	message := "internal server error"
	var app *errors.AppError
	if errors.As(err, &app) && app.Kind != errors.KindInternal {
		message = app.Message
	}
	c.AbortWithStatusJSON(status, gin.H{
		"status":  status,
		"kind":    errors.KindOf(err),
		"message": message,
	})
}

// bindError reports a request body that could not be decoded.
func bindError(c *gin.Context, err error) {
	JSONError(c, errors.Newf(errors.KindValidation, "invalid request payload: %v", err))
}
