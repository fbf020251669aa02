package chain

import (
	"context"
	"errors"
	"strings"
)

var ErrDocumentNotFound = errors.New("chain: document not registered")

// retryableMessages are RPC failures a resubmission with a fresh nonce
// and a bumped gas price can recover from.
var retryableMessages = []string{
	"nonce too low",
	"replacement transaction underpriced",
	"transaction underpriced",
	"gas price too low",
	"insufficient funds for gas",
	"already known",
	"connection refused",
	"connection reset",
	"i/o timeout",
	"timeout",
	"eof",
	"too many requests",
}

// RetryableRPC reports whether err is worth retrying per the gas policy.
func RetryableRPC(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, m := range retryableMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
