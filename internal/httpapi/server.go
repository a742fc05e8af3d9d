// Package httpapi exposes the payment service over HTTP.
package httpapi

import (
	"context"
	"net"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"triple-impacto/internal/payment"
)

const userIDHeader = "X-User-ID"

type PaymentService interface {
	CreateTransaction(ctx context.Context, userID string, req payment.CreateTransactionRequest) (*payment.CreateTransactionResponse, error)
	HandleNotification(ctx context.Context, form url.Values) error
	DescribeReturn(ctx context.Context, query url.Values) payment.ReturnView
}

type Server struct {
	payments PaymentService
	router   *gin.Engine
	logger   logrus.FieldLogger
}

// NewServer wires the routes. An empty notifyAllowed list accepts
// notifications from any address.
func NewServer(payments PaymentService, notifyAllowed []*net.IPNet, logger logrus.FieldLogger) *Server {
	router := gin.New()
	router.Use(RequestLogger(logger), gin.Recovery())

	s := &Server{
		payments: payments,
		router:   router,
		logger:   logger,
	}

	router.GET("/healthz", s.handleHealth)

	fiserv := router.Group("/api/payments/fiserv")
	{
		fiserv.POST("/crear-transaccion", s.handleCreateTransaction)
		fiserv.POST("/notification", AllowIPs(notifyAllowed, logger), s.handleNotification)
		fiserv.GET("/return", s.handleReturn)
		fiserv.POST("/return", s.handleReturn)
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleCreateTransaction(c *gin.Context) {
	var req payment.CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid request body", "kind": "bad_request"})
		return
	}

	resp, err := s.payments.CreateTransaction(c.Request.Context(), c.GetHeader(userIDHeader), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleNotification(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid form body", "kind": "bad_request"})
		return
	}

	if err := s.payments.HandleNotification(c.Request.Context(), c.Request.PostForm); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleReturn(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid form body", "kind": "bad_request"})
		return
	}
	c.JSON(http.StatusOK, s.payments.DescribeReturn(c.Request.Context(), c.Request.Form))
}
