package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const orderNumberPrefix = "ORD"

// NewOrderNumber builds ORD-<YYYYMMDD>-<8 upper-case hex chars>.
func NewOrderNumber(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%s-%s", orderNumberPrefix, now.Format("20060102"), strings.ToUpper(suffix))
}
