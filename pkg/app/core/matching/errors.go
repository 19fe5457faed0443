package matching

import "errors"

var (
	ErrCannotTradeQuoteAsset    = errors.New("cannot trade DAI")
	ErrInsufficientTokenBalance = errors.New("token balance too low")
	ErrInsufficientQuoteBalance = errors.New("dai balance too low")
	ErrInvalidSide              = errors.New("invalid side")
	ErrZeroAmount               = errors.New("amount must be positive")
)
