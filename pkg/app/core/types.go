package core

import "fmt"

// Side of an order. The numeric values are part of the signed wire format.
type Side uint8

const (
	Buy  Side = 0
	Sell Side = 1
)

func (s Side) Valid() bool { return s == Buy || s == Sell }

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return fmt.Sprintf("Side(%d)", uint8(s))
	}
}

// TimeInForce controls what happens to the part of a submitted order that
// did not fill against the supplied makers.
type TimeInForce uint8

const (
	GTC TimeInForce = 0 // rests on the book
	IOK TimeInForce = 1 // immediate-or-kill: remainder is closed
	FOK TimeInForce = 2 // fill-or-kill: whole submission reverts unless fully filled
)

func (t TimeInForce) Valid() bool { return t <= FOK }

func (t TimeInForce) String() string {
	switch t {
	case GTC:
		return "GTC"
	case IOK:
		return "IOK"
	case FOK:
		return "FOK"
	default:
		return fmt.Sprintf("TimeInForce(%d)", uint8(t))
	}
}

// CloseReason is reported with every OrderClosed event.
type CloseReason uint8

const (
	Filled CloseReason = iota
	Cancelled
	Expired
	OutOfBalance
	OutOfAllowance
	ExpiredIOK
)

func (r CloseReason) String() string {
	switch r {
	case Filled:
		return "FILLED"
	case Cancelled:
		return "CANCELLED"
	case Expired:
		return "EXPIRED"
	case OutOfBalance:
		return "OUT_OF_BALANCE"
	case OutOfAllowance:
		return "OUT_OF_ALLOWANCE"
	case ExpiredIOK:
		return "EXPIRED_IOK"
	default:
		return fmt.Sprintf("CloseReason(%d)", uint8(r))
	}
}

// ParseSide accepts "buy"/"sell" in any case, or the numeric wire value.
func ParseSide(s string) (Side, error) {
	switch s {
	case "buy", "BUY", "Buy", "0":
		return Buy, nil
	case "sell", "SELL", "Sell", "1":
		return Sell, nil
	}
	return 0, fmt.Errorf("unknown side %q", s)
}

func ParseTimeInForce(s string) (TimeInForce, error) {
	switch s {
	case "GTC", "gtc", "0":
		return GTC, nil
	case "IOK", "iok", "IOC", "ioc", "1":
		return IOK, nil
	case "FOK", "fok", "2":
		return FOK, nil
	}
	return 0, fmt.Errorf("unknown time in force %q", s)
}
