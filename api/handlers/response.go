package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tss-coordinator/internal/errcode"
	"tss-coordinator/internal/logger"
)

// respond writes the success envelope.
func respond(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

// fail writes the error envelope. Unclassified errors are logged and reported
// as UNKNOWN_ERROR without their detail.
func fail(c *gin.Context, err error) {
	e := errcode.From(err)
	if e.Code == errcode.Unknown && e.Err != nil {
		logger.Log.Errorf("%s %s failed: %v", c.Request.Method, c.FullPath(), e.Err)
	}
	c.AbortWithStatusJSON(errcode.HTTPStatus(e.Code), gin.H{
		"success": false,
		"code":    e.Code,
		"msg":     e.Msg,
	})
}

// bind decodes the JSON body into req, failing the request on error.
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		fail(c, errcode.Wrap(errcode.InvalidRequest, err, "invalid request body: "+err.Error()))
		return false
	}
	return true
}
