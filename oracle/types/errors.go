package types

import (
	"errors"

	errorsmod "cosmossdk.io/errors"
)

const ModuleName = "oracle"

// errors
var (
	ErrNetwork       = errorsmod.Register(ModuleName, 2, "network error")
	ErrDecode        = errorsmod.Register(ModuleName, 3, "decode error")
	ErrParse         = errorsmod.Register(ModuleName, 4, "parse error")
	ErrInvalidConfig = errorsmod.Register(ModuleName, 5, "invalid config")
)

// ErrorKind names the registered error class of err, or "unknown".
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, ErrInvalidConfig):
		return "config"
	default:
		return "unknown"
	}
}
