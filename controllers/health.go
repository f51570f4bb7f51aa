package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/saif727/reward-token-relay/models"
)

// WalletInfo is the subset of the ledger the health endpoint reports.
type WalletInfo interface {
	Address() string
	TokenContract() string
	Network() string
}

// HealthController handles GET /ping
type HealthController struct {
	Wallet WalletInfo
}

// NewHealthController creates a new HealthController instance
func NewHealthController(wallet WalletInfo) *HealthController {
	return &HealthController{Wallet: wallet}
}

// Ping handles GET /ping
func (ctrl *HealthController) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, models.PingResponse{
		Status:        "ok",
		Network:       ctrl.Wallet.Network(),
		TokenContract: ctrl.Wallet.TokenContract(),
		ServerAddress: ctrl.Wallet.Address(),
	})
}

// NotFound answers unknown routes with a JSON body.
func NotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, models.ErrorResponse{Success: false, Error: "not found"})
}
