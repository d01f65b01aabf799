package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// GenerateOrderRef generates a short customer facing order reference
func GenerateOrderRef(prefix string) string {
	max := big.NewInt(999999)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		// fall back to the clock, refs only need to be unlikely to collide per tenant
		return fmt.Sprintf("%s%d", prefix, time.Now().UnixNano()%1000000)
	}
	return fmt.Sprintf("%s%s%06d", prefix, time.Now().Format("0102"), n.Int64()+1)
}

// NewIdempotencyKey tags one submission so backend retries are deduplicated
func NewIdempotencyKey() string {
	return uuid.NewString()
}
