// Package validation содержит функции валидации входных данных.
package validation

// Ограничения BinancePay на merchantTradeNo.
const (
	tradeNoMinLen = 1
	tradeNoMaxLen = 32
)

// IsValidMerchantTradeNo проверяет номер заказа на пригодность в качестве
// merchantTradeNo: от 1 до 32 символов, только латинские буквы и цифры.
func IsValidMerchantTradeNo(number string) bool {
	if len(number) < tradeNoMinLen || len(number) > tradeNoMaxLen {
		return false
	}

	for i := 0; i < len(number); i++ {
		ch := number[i]
		switch {
		case ch >= '0' && ch <= '9':
		case ch >= 'a' && ch <= 'z':
		case ch >= 'A' && ch <= 'Z':
		default:
			return false
		}
	}

	return true
}
