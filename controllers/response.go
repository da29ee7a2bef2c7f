package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"kombuciao-api/common"
	middlewares "kombuciao-api/middleware"
)

func respondData(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"ok": true, "data": data})
}

func respondPage(c *gin.Context, data any, total int64) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": data, "total": total})
}

func respondOK(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// respondError writes the error envelope. Internal failures are logged in
// full and reach the caller only as a generic message.
func respondError(c *gin.Context, log logrus.FieldLogger, err error) {
	var e *common.Error
	if !errors.As(err, &e) {
		e = common.NewInternalError(c.FullPath(), err)
	}
	if e.Kind == common.KindInternal {
		log.WithFields(logrus.Fields{
			"request_id": c.GetString(middlewares.RequestIDKey),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
		}).WithError(err).Error("request failed")
	}
	c.JSON(e.Kind.HTTPStatus(), gin.H{"ok": false, "error": e.PublicMessage()})
}

func invalidBody(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "Invalid input"})
}
