// Package events defines what the engine reports to observers and the
// sinks that deliver it.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/zklite/pkg/app/core"
)

type Kind string

const (
	KindNewPairConfig Kind = "NewPairConfig"
	KindNewOrder      Kind = "NewOrder"
	KindFill          Kind = "Fill"
	KindOrderClosed   Kind = "OrderClosed"
)

type Event interface {
	Kind() Kind
	// Topics lists the subscription channels the event belongs to.
	Topics() []string
}

// NewPairConfig carries the full pair configuration after any admin change.
type NewPairConfig struct {
	BaseAsset            common.Address
	QuoteAsset           common.Address
	MinExecutableQuote   uint256.Int
	MinQuoteFeeThreshold uint256.Int
	PairID               uint16
	TakerFeeBps          uint16
	MakerFeeBps          uint16
	PriceDecimals        uint8
	Active               bool
}

type NewOrder struct {
	OrderID    uint64
	Owner      common.Address
	Price      uint256.Int
	Amount     uint256.Int
	PairID     uint16
	Side       core.Side
	ValidUntil uint64
}

type Fill struct {
	MakerOrderID  uint64
	TakerOrderID  uint64
	Maker         common.Address
	Taker         common.Address
	ExecutedQuote uint256.Int
	ExecutedBase  uint256.Int
	TakerFee      uint256.Int
	MakerFee      uint256.Int
	PairID        uint16
	TakerSide     core.Side
}

type OrderClosed struct {
	OrderID     uint64
	Owner       common.Address
	ReceivedAmt uint256.Int
	ExecutedAmt uint256.Int
	FeeAmt      uint256.Int
	PairID      uint16
	Side        core.Side
	Reason      core.CloseReason
}

func (NewPairConfig) Kind() Kind { return KindNewPairConfig }
func (NewOrder) Kind() Kind      { return KindNewOrder }
func (Fill) Kind() Kind          { return KindFill }
func (OrderClosed) Kind() Kind   { return KindOrderClosed }

func PairTopic(id uint16) string              { return fmt.Sprintf("pair:%d", id) }
func AccountTopic(addr common.Address) string { return "account:" + addr.Hex() }

func (e NewPairConfig) Topics() []string { return []string{PairTopic(e.PairID)} }
func (e NewOrder) Topics() []string      { return []string{PairTopic(e.PairID), AccountTopic(e.Owner)} }
func (e Fill) Topics() []string {
	return []string{PairTopic(e.PairID), AccountTopic(e.Maker), AccountTopic(e.Taker)}
}
func (e OrderClosed) Topics() []string { return []string{PairTopic(e.PairID), AccountTopic(e.Owner)} }

// Record is a committed event with its position in the global event order.
type Record struct {
	Seq   uint64
	Event Event
}

// wire forms: amounts as decimal strings, addresses as checksummed hex

type pairConfigJSON struct {
	BaseAsset            string `json:"baseAsset"`
	QuoteAsset           string `json:"quoteAsset"`
	MinExecutableQuote   string `json:"minExecutableQuote"`
	MinQuoteFeeThreshold string `json:"minQuoteFeeThreshold"`
	PairID               uint16 `json:"pairId"`
	TakerFeeBps          uint16 `json:"takerFeeBps"`
	MakerFeeBps          uint16 `json:"makerFeeBps"`
	PriceDecimals        uint8  `json:"priceDecimals"`
	Active               bool   `json:"active"`
}

type newOrderJSON struct {
	OrderID    uint64 `json:"orderId"`
	Owner      string `json:"owner"`
	Price      string `json:"price"`
	Amount     string `json:"amount"`
	PairID     uint16 `json:"pairId"`
	Side       string `json:"side"`
	ValidUntil uint64 `json:"validUntil"`
}

type fillJSON struct {
	MakerOrderID  uint64 `json:"makerOrderId"`
	TakerOrderID  uint64 `json:"takerOrderId"`
	Maker         string `json:"maker"`
	Taker         string `json:"taker"`
	ExecutedQuote string `json:"executedQuote"`
	ExecutedBase  string `json:"executedBase"`
	TakerFee      string `json:"takerFee"`
	MakerFee      string `json:"makerFee"`
	PairID        uint16 `json:"pairId"`
	TakerSide     string `json:"takerSide"`
}

type orderClosedJSON struct {
	OrderID     uint64 `json:"orderId"`
	Owner       string `json:"owner"`
	ReceivedAmt string `json:"receivedAmt"`
	ExecutedAmt string `json:"executedAmt"`
	FeeAmt      string `json:"feeAmt"`
	PairID      uint16 `json:"pairId"`
	Side        string `json:"side"`
	Reason      string `json:"reason"`
}

func (e NewPairConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(pairConfigJSON{
		BaseAsset:            e.BaseAsset.Hex(),
		QuoteAsset:           e.QuoteAsset.Hex(),
		MinExecutableQuote:   e.MinExecutableQuote.Dec(),
		MinQuoteFeeThreshold: e.MinQuoteFeeThreshold.Dec(),
		PairID:               e.PairID,
		TakerFeeBps:          e.TakerFeeBps,
		MakerFeeBps:          e.MakerFeeBps,
		PriceDecimals:        e.PriceDecimals,
		Active:               e.Active,
	})
}

func (e NewOrder) MarshalJSON() ([]byte, error) {
	return json.Marshal(newOrderJSON{
		OrderID:    e.OrderID,
		Owner:      e.Owner.Hex(),
		Price:      e.Price.Dec(),
		Amount:     e.Amount.Dec(),
		PairID:     e.PairID,
		Side:       e.Side.String(),
		ValidUntil: e.ValidUntil,
	})
}

func (e Fill) MarshalJSON() ([]byte, error) {
	return json.Marshal(fillJSON{
		MakerOrderID:  e.MakerOrderID,
		TakerOrderID:  e.TakerOrderID,
		Maker:         e.Maker.Hex(),
		Taker:         e.Taker.Hex(),
		ExecutedQuote: e.ExecutedQuote.Dec(),
		ExecutedBase:  e.ExecutedBase.Dec(),
		TakerFee:      e.TakerFee.Dec(),
		MakerFee:      e.MakerFee.Dec(),
		PairID:        e.PairID,
		TakerSide:     e.TakerSide.String(),
	})
}

func (e OrderClosed) MarshalJSON() ([]byte, error) {
	return json.Marshal(orderClosedJSON{
		OrderID:     e.OrderID,
		Owner:       e.Owner.Hex(),
		ReceivedAmt: e.ReceivedAmt.Dec(),
		ExecutedAmt: e.ExecutedAmt.Dec(),
		FeeAmt:      e.FeeAmt.Dec(),
		PairID:      e.PairID,
		Side:        e.Side.String(),
		Reason:      e.Reason.String(),
	})
}

// Envelope is the serialized form of a Record shared by the journal, the
// websocket stream and the Kafka topic.
type Envelope struct {
	Seq  uint64          `json:"seq"`
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (r Record) Envelope() (Envelope, error) {
	data, err := json.Marshal(r.Event)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s event: %w", r.Event.Kind(), err)
	}
	return Envelope{Seq: r.Seq, Type: r.Event.Kind(), Data: data}, nil
}

func (r Record) MarshalJSON() ([]byte, error) {
	env, err := r.Envelope()
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}
