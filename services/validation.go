package services

import (
	"bytes"
	"encoding/json"
	"math/big"
	"regexp"
	"strings"

	"github.com/saif727/reward-token-relay/models"
)

var digitsOnly = regexp.MustCompile(`^[0-9]+$`)

// ValidateRequest turns a decoded body into a DisbursementRequest.
// validAddress is the ledger's address-format check; it must not do I/O.
//
// Points must be a JSON integer literal or a string of decimal digits.
// Signs, fractions, exponents and zero are rejected rather than coerced.
func ValidateRequest(req models.SendTokensRequest, validAddress func(string) bool) (models.DisbursementRequest, error) {
	address := strings.TrimSpace(req.Address)
	raw := bytes.TrimSpace(req.Points)
	if address == "" || len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return models.DisbursementRequest{}, validationError(KindMissingField, "address and points are required")
	}

	if !validAddress(address) {
		return models.DisbursementRequest{}, validationError(KindInvalidAddress, "invalid recipient address")
	}

	points, ok := parsePoints(raw)
	if !ok {
		return models.DisbursementRequest{}, validationError(KindInvalidAmount, "points must be a positive whole number")
	}

	return models.DisbursementRequest{Recipient: address, Points: points}, nil
}

func parsePoints(raw []byte) (*big.Int, bool) {
	var literal string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &literal); err != nil {
			return nil, false
		}
		literal = strings.TrimSpace(literal)
	} else {
		literal = string(raw)
	}

	if !digitsOnly.MatchString(literal) {
		return nil, false
	}
	points, ok := new(big.Int).SetString(literal, 10)
	if !ok || points.Sign() <= 0 {
		return nil, false
	}
	return points, true
}
