package controllers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/saif727/reward-token-relay/middleware"
	"github.com/saif727/reward-token-relay/models"
	"github.com/saif727/reward-token-relay/services"
)

// maxBodyBytes bounds the /send-tokens payload; a valid request is well under 1KB.
const maxBodyBytes = 4 << 10

// Disburser runs a validated disbursement to completion.
type Disburser interface {
	Disburse(ctx context.Context, req models.DisbursementRequest) (*models.TransactionResult, error)
}

// DisbursementController handles POST /send-tokens
type DisbursementController struct {
	Service Disburser
	// ValidAddress is the ledger's address-format check.
	ValidAddress func(string) bool
	// ExplorerLink builds a block explorer URL for a transaction hash.
	ExplorerLink func(hash string) string
	Log          *logrus.Entry
}

// NewDisbursementController creates a new DisbursementController instance
func NewDisbursementController(service Disburser, validAddress func(string) bool, explorerLink func(string) string, log *logrus.Entry) *DisbursementController {
	return &DisbursementController{
		Service:      service,
		ValidAddress: validAddress,
		ExplorerLink: explorerLink,
		Log:          log,
	}
}

// SendTokens handles POST /send-tokens
func (ctrl *DisbursementController) SendTokens(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)

	var body models.SendTokensRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		var verrs validator.ValidationErrors
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			ctrl.reject(c, &services.Error{Kind: services.KindMalformedBody, Message: "request body too large"})
			return
		}
		if errors.As(err, &verrs) {
			ctrl.reject(c, &services.Error{Kind: services.KindMissingField, Message: "address and points are required"})
			return
		}
		ctrl.reject(c, &services.Error{Kind: services.KindMalformedBody, Message: "invalid request body: " + err.Error()})
		return
	}

	req, err := services.ValidateRequest(body, ctrl.ValidAddress)
	if err != nil {
		ctrl.reject(c, err)
		return
	}

	result, err := ctrl.Service.Disburse(c.Request.Context(), req)
	if err != nil {
		ctrl.reject(c, err)
		return
	}

	c.JSON(http.StatusOK, models.SendTokensResponse{
		Success:         true,
		TransactionHash: result.TransactionHash,
		ExplorerLink:    ctrl.ExplorerLink(result.TransactionHash),
		BlockNumber:     result.BlockNumber,
	})
}

func (ctrl *DisbursementController) reject(c *gin.Context, err error) {
	log := middleware.RequestLogger(c, ctrl.Log)

	var serr *services.Error
	if !errors.As(err, &serr) {
		log.WithError(err).Error("disbursement failed")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Error:   "disbursement failed",
			Details: err.Error(),
		})
		return
	}

	if serr.IsClientError() {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error:   serr.Message,
			Code:    string(serr.Kind),
		})
		return
	}

	details := serr.Error()
	if serr.Reason != "" {
		details += " [" + serr.Reason + "]"
	}
	log.WithFields(logrus.Fields{"kind": serr.Kind, "reason": serr.Reason}).WithError(serr.Err).Error("disbursement failed")
	c.JSON(http.StatusInternalServerError, models.ErrorResponse{
		Success:         false,
		Error:           serr.Message,
		Code:            string(serr.Kind),
		Details:         details,
		TransactionHash: serr.TxHash,
	})
}
