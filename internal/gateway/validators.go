package gateway

import (
	"strconv"
	"strings"
	"time"

	"github.com/honeynil/CheckoutService/internal/models"
)

func validLuhn(number string) bool {
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		d := int(number[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func validCardNumber(number string) bool {
	digits := models.OnlyDigits(number)
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	return validLuhn(digits)
}

func validCCV(ccv string) bool {
	if len(ccv) < 3 || len(ccv) > 4 {
		return false
	}
	return models.OnlyDigits(ccv) == ccv
}

// validExpiry accepts two or four digit years. A card is valid through the
// last day of its expiry month.
func validExpiry(month, year string, now time.Time) bool {
	m, err := strconv.Atoi(strings.TrimSpace(month))
	if err != nil || m < 1 || m > 12 {
		return false
	}
	y, err := strconv.Atoi(strings.TrimSpace(year))
	if err != nil {
		return false
	}
	if y < 100 {
		y += 2000
	}
	firstOfNext := time.Date(y, time.Month(m)+1, 1, 0, 0, 0, 0, time.UTC)
	return now.UTC().Before(firstOfNext)
}
