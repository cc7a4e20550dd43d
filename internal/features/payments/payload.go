package payments

import (
	"strconv"
	"strings"

	"serotonyl.ru/stars-bot/internal/common"
)

const payloadPrefix = "payment_"

// EncodePayload — payload счёта: "payment_<id>".
func EncodePayload(paymentID int64) string {
	return payloadPrefix + strconv.FormatInt(paymentID, 10)
}

// DecodePayload извлекает id платежа из payload.
// Всё, что не "payment_<положительное число>", — common.ErrInvalidPayload.
func DecodePayload(payload string) (int64, error) {
	if !strings.HasPrefix(payload, payloadPrefix) {
		return 0, common.ErrInvalidPayload
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(payload, payloadPrefix), 10, 64)
	if err != nil || id <= 0 {
		return 0, common.ErrInvalidPayload
	}
	return id, nil
}

// ExternalID — внешний id платежа у провайдера: "<provider>_<id>".
func ExternalID(provider string, paymentID int64) string {
	return provider + "_" + strconv.FormatInt(paymentID, 10)
}
