package models

import (
	"encoding/json"
	"math/big"
)

// SendTokensRequest represents the request body for the send-tokens endpoint.
// Points is kept raw so the validator can apply a strict integer rule.
type SendTokensRequest struct {
	Address string          `json:"address" binding:"required"`
	Points  json.RawMessage `json:"points" binding:"required"`
}

// DisbursementRequest is a validated SendTokensRequest
type DisbursementRequest struct {
	Recipient string
	Points    *big.Int
}

// TransactionResult describes a confirmed transfer
type TransactionResult struct {
	TransactionHash string
	BlockNumber     uint64
}

// WalletState is a snapshot of the custodial wallet
type WalletState struct {
	NativeBalance  *big.Int
	TokenBalance   *big.Int
	Decimals       uint8
	NativeDecimals uint8
}

// SendTokensResponse represents the API response for a successful transfer
type SendTokensResponse struct {
	Success         bool   `json:"success"`
	TransactionHash string `json:"transactionHash"`
	ExplorerLink    string `json:"explorerLink"`
	BlockNumber     uint64 `json:"blockNumber"`
}

// ErrorResponse represents the API response for a rejected or failed request
type ErrorResponse struct {
	Success         bool   `json:"success"`
	Error           string `json:"error"`
	Code            string `json:"code,omitempty"`
	Details         string `json:"details,omitempty"`
	TransactionHash string `json:"transactionHash,omitempty"`
}

// PingResponse represents the API response for the health endpoint
type PingResponse struct {
	Status        string `json:"status"`
	Network       string `json:"network"`
	TokenContract string `json:"tokenContract"`
	ServerAddress string `json:"serverAddress"`
}
