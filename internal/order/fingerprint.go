package order

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"keel/internal/exchange"
)

// fingerprint hashes the economically meaningful fields of a request so that
// two submissions of the same intent collide regardless of client id. Float
// fields are formatted with the shortest round-trip representation to keep
// the hash deterministic.
func fingerprint(symbol string, side exchange.Side, typ exchange.OrderType, amount, price, stopPrice float64) string {
	key := fmt.Sprintf("%s|%s|%s|%s|%s|%s",
		symbol, side, typ,
		strconv.FormatFloat(amount, 'f', -1, 64),
		strconv.FormatFloat(price, 'f', -1, 64),
		strconv.FormatFloat(stopPrice, 'f', -1, 64),
	)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16])
}
