package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"triple-impacto/internal/apperr"
)

func (s *Server) writeError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	kind := apperr.Kind(err)

	log := s.logger.WithError(err).WithFields(logrus.Fields{
		"kind":   kind,
		"path":   c.FullPath(),
		"status": status,
	})

	msg := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		log.Error("request failed")
		msg = "internal error"
	} else {
		log.Warn("request rejected")
	}

	c.JSON(status, gin.H{"ok": false, "error": msg, "kind": kind})
}
