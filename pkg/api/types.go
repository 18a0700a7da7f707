package api

import (
	"encoding/json"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/uhyunpark/zklite/pkg/app/core/events"
	"github.com/uhyunpark/zklite/pkg/app/core/market"
	"github.com/uhyunpark/zklite/pkg/app/core/orderbook"
	"github.com/uhyunpark/zklite/pkg/storage"
)

// API response types for REST endpoints and WebSocket messages.
// Amounts are base-unit decimal strings; *Display fields are for humans
// only and never read back.

// PairInfo is a pair's current configuration
type PairInfo struct {
	ID                   uint16 `json:"id"`
	BaseAsset            string `json:"baseAsset"`
	QuoteAsset           string `json:"quoteAsset"`
	PriceDecimals        uint8  `json:"priceDecimals"`
	MinExecutableQuote   string `json:"minExecutableQuote"`
	MinQuoteFeeThreshold string `json:"minQuoteFeeThreshold"`
	TakerFeeBps          uint16 `json:"takerFeeBps"`
	MakerFeeBps          uint16 `json:"makerFeeBps"`
	Active               bool   `json:"active"`
}

// OrderInfo is one order slot. Erased and unknown ids render as the zero
// record with active=false.
type OrderInfo struct {
	ID             uint64 `json:"id"`
	Owner          string `json:"owner"`
	PairID         uint16 `json:"pairId"`
	Side           string `json:"side"`
	Price          string `json:"price"`
	PriceDisplay   string `json:"priceDisplay"`
	OriginalAmount string `json:"originalAmount"`
	UnfilledAmt    string `json:"unfilledAmt"`
	ReceivedAmt    string `json:"receivedAmt"`
	FeeAmt         string `json:"feeAmt"`
	ValidUntil     uint64 `json:"validUntil"`
	TimeInForce    string `json:"tif"`
	Active         bool   `json:"active"`
}

type AdminInfo struct {
	Admin             string `json:"admin"`
	Engine            string `json:"engine"` // spender to approve
	Relayer           string `json:"relayer"`
	DomainName        string `json:"domainName"`
	DomainVersion     string `json:"domainVersion"`
	ChainID           string `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
}

type SpendingInfo struct {
	Owner  string `json:"owner"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// SubmitOrderResponse reports the new order id and everything the call
// emitted, in order.
type SubmitOrderResponse struct {
	OrderID uint64          `json:"orderId"`
	Order   OrderInfo       `json:"order"`
	Events  []events.Record `json:"events"`
}

type CancelOrdersResponse struct {
	Events []events.Record `json:"events"`
}

type EventsResponse struct {
	Events []storage.JournalEntry `json:"events"`
	Head   string                 `json:"head"`
}

type DevMintRequest struct {
	Asset   string `json:"asset"`
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

// DevApproveRequest sets owner's allowance for the engine.
type DevApproveRequest struct {
	Asset  string `json:"asset"`
	Owner  string `json:"owner"`
	Amount string `json:"amount"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by clients to manage subscriptions.
// Channels: "events", "pair:<id>", "account:<address>".
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// WSAck confirms a subscription change.
type WSAck struct {
	Type     string   `json:"type"` // "subscribed" or "unsubscribed"
	Channels []string `json:"channels"`
}

// WSEvent is one committed event pushed to subscribers.
type WSEvent struct {
	Seq    uint64          `json:"seq"`
	Type   events.Kind     `json:"type"`
	Data   json.RawMessage `json:"data"`
	Topics []string        `json:"topics"`
}

func pairInfo(p market.Pair) PairInfo {
	return PairInfo{
		ID:                   p.ID,
		BaseAsset:            p.BaseAsset.Hex(),
		QuoteAsset:           p.QuoteAsset.Hex(),
		PriceDecimals:        p.PriceDecimals,
		MinExecutableQuote:   p.MinExecutableQuote.Dec(),
		MinQuoteFeeThreshold: p.MinQuoteFeeThreshold.Dec(),
		TakerFeeBps:          p.TakerFeeBps,
		MakerFeeBps:          p.MakerFeeBps,
		Active:               p.Active,
	}
}

func orderInfo(s orderbook.Slot, priceDecimals uint8) OrderInfo {
	o := s.Order()
	return OrderInfo{
		ID:             o.ID,
		Owner:          o.Owner.Hex(),
		PairID:         o.PairID,
		Side:           o.Side.String(),
		Price:          o.Price.Dec(),
		PriceDisplay:   displayPrice(o.Price, priceDecimals),
		OriginalAmount: o.OriginalAmount.Dec(),
		UnfilledAmt:    o.UnfilledAmt.Dec(),
		ReceivedAmt:    o.ReceivedAmt.Dec(),
		FeeAmt:         o.FeeAmt.Dec(),
		ValidUntil:     o.ValidUntil,
		TimeInForce:    o.TimeInForce.String(),
		Active:         s.Occupied(),
	}
}

// displayPrice renders a scaled price as quote per base, e.g. 3000000000
// with 6 decimals is "3000".
func displayPrice(price uint256.Int, decimals uint8) string {
	return decimal.NewFromBigInt(price.ToBig(), -int32(decimals)).String()
}
