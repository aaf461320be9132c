package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"travelmatch/apperr"
)

// writeError maps the error kind onto a status code. Unclassified errors
// are logged and surfaced as a bare 500.
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindStateTransition:
		status = http.StatusUnprocessableEntity
	case apperr.KindExternal:
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		s.log.Error("unclassified handler error",
			zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
