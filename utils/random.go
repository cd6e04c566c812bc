package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// GenerateCode returns 2n upper-case hex characters.
func GenerateCode(n int) (string, error) {
	byt := make([]byte, n)
	if _, err := rand.Read(byt); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(byt)), nil
}

// GenerateReference builds a payment reference such as CASH_1A2B3C4D.
func GenerateReference(prefix string) (string, error) {
	code, err := GenerateCode(4)
	if err != nil {
		return "", err
	}
	return prefix + "_" + code, nil
}
