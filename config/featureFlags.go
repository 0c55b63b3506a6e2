package config

import (
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Settings are the ledger posting knobs. All values come from env with safe defaults.
type Settings struct {
	// Adjustments whose absolute value exceeds this need an approval before posting.
	AdjustmentApprovalThreshold decimal.Decimal
	// Max tolerated |receipt cost - PO price| / PO price, in percent.
	PriceVarianceTolerancePct decimal.Decimal
	BomMaxDepth               int
	PostingLockTTL            time.Duration
}

// LoadSettings reads:
// - ADJUSTMENT_APPROVAL_THRESHOLD (default 1000)
// - PRICE_VARIANCE_TOLERANCE_PCT (default 5)
// - BOM_MAX_DEPTH (default 10)
// - POSTING_LOCK_TTL_SECONDS (default 30)
func LoadSettings() Settings {
	return Settings{
		AdjustmentApprovalThreshold: decimalFromEnv("ADJUSTMENT_APPROVAL_THRESHOLD", decimal.NewFromInt(1000)),
		PriceVarianceTolerancePct:   decimalFromEnv("PRICE_VARIANCE_TOLERANCE_PCT", decimal.NewFromInt(5)),
		BomMaxDepth:                 intFromEnv("BOM_MAX_DEPTH", 10),
		PostingLockTTL:              time.Duration(intFromEnv("POSTING_LOCK_TTL_SECONDS", 30)) * time.Second,
	}
}

func decimalFromEnv(key string, def decimal.Decimal) decimal.Decimal {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return def
	}
	return d
}

// DebugPostings enables verbose posting logs.
//
// Set via env:
// - DEBUG_POSTINGS=true
func DebugPostings() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("DEBUG_POSTINGS")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
