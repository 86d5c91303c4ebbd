package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ibkr-dashboard/internal/models"
)

// relay writes a gateway payload through unchanged.
func relay(c *gin.Context, raw json.RawMessage, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}

// accounts handles GET /api/accounts
func (s *Server) accounts(c *gin.Context) {
	raw, err := s.gateway.Accounts(c.Request.Context())
	relay(c, raw, err)
}

// accountSummary handles GET /api/accounts/summary
func (s *Server) accountSummary(c *gin.Context) {
	ctx := c.Request.Context()
	id, err := s.gateway.AccountID(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	raw, err := s.gateway.AccountSummary(ctx, id)
	relay(c, raw, err)
}

// portfolio handles GET /api/portfolio
func (s *Server) portfolio(c *gin.Context) {
	ctx := c.Request.Context()
	id, err := s.gateway.AccountID(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	raw, err := s.gateway.Positions(ctx, id)
	relay(c, raw, err)
}

// orders handles GET /api/orders
func (s *Server) orders(c *gin.Context) {
	raw, err := s.gateway.Orders(c.Request.Context())
	relay(c, raw, err)
}

// placeOrder handles POST /api/orders
// Accepts JSON or the order form fields (contract_id, price, quantity, side).
func (s *Server) placeOrder(c *gin.Context) {
	var req models.OrderRequest
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, "order", err.Error())
		return
	}
	req.Side = models.OrderSide(strings.ToUpper(string(req.Side)))

	ctx := c.Request.Context()
	id, err := s.gateway.AccountID(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	raw, err := s.gateway.PlaceOrder(ctx, id, req)
	relay(c, raw, err)
}

// cancelOrder handles DELETE /api/orders/:id
func (s *Server) cancelOrder(c *gin.Context) {
	ctx := c.Request.Context()
	id, err := s.gateway.AccountID(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	raw, err := s.gateway.CancelOrder(ctx, id, c.Param("id"))
	relay(c, raw, err)
}

// lookup handles GET /api/lookup?symbol=
func (s *Server) lookup(c *gin.Context) {
	symbol := strings.TrimSpace(c.Query("symbol"))
	if symbol == "" {
		badRequest(c, "symbol", "symbol is required")
		return
	}
	raw, err := s.gateway.Search(c.Request.Context(), symbol)
	relay(c, raw, err)
}

// contract handles GET /api/contracts/:conid
// Query params: period (default 5d), bar (default 1d)
func (s *Server) contract(c *gin.Context) {
	ctx := c.Request.Context()
	conid := models.Conid(c.Param("conid"))

	info, err := s.gateway.Contract(ctx, conid)
	if err != nil {
		writeError(c, err)
		return
	}
	history, err := s.gateway.PriceHistory(ctx, conid, c.DefaultQuery("period", "5d"), c.DefaultQuery("bar", "1d"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"contract": info,
		"history":  history,
	})
}

// scannerParams handles GET /api/scanner/params
func (s *Server) scannerParams(c *gin.Context) {
	raw, err := s.gateway.ScannerParams(c.Request.Context())
	relay(c, raw, err)
}

// runScanner handles POST /api/scanner/run
func (s *Server) runScanner(c *gin.Context) {
	var req models.ScannerRequest
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, "scanner", err.Error())
		return
	}
	raw, err := s.gateway.RunScanner(c.Request.Context(), req)
	relay(c, raw, err)
}

// health handles GET /healthz
func (s *Server) health(c *gin.Context) {
	report := s.checker.Check(c.Request.Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}
