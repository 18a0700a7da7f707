// sign-order builds a signed order or cancel envelope for
// POST /api/v1/orders and /api/v1/orders/cancel and prints it as JSON.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/zklite/pkg/app/core"
	"github.com/uhyunpark/zklite/pkg/app/core/transaction"
	"github.com/uhyunpark/zklite/pkg/crypto"
)

func main() {
	var (
		keyHex     = flag.String("key", "", "private key hex; a fresh key is generated when empty")
		side       = flag.String("side", "BUY", "BUY or SELL")
		tif        = flag.String("tif", "GTC", "GTC, IOK or FOK")
		price      = flag.String("price", "0", "scaled price (quote per base * 10^priceDecimals)")
		amount     = flag.String("amount", "0", "quote units for BUY, base units for SELL")
		pairID     = flag.Uint("pair", 1, "pair id")
		validFor   = flag.Duration("valid-for", time.Hour, "order lifetime from now")
		networkFee = flag.String("network-fee", "0", "fee paid to the relayer in the sold asset")
		nonce      = flag.String("nonce", "", "nonce; random when empty")
		toCancel   = flag.String("cancel", "", "comma-separated order ids to cancel first")
		toFill     = flag.String("fill", "", "comma-separated maker order ids to fill against")
		cancelOnly = flag.Bool("cancel-only", false, "sign a cancel of -cancel ids instead of an order")

		domainName    = flag.String("domain-name", crypto.DefaultDomainName, "EIP-712 domain name")
		domainVersion = flag.String("domain-version", crypto.DefaultDomainVersion, "EIP-712 domain version")
		chainID       = flag.Int64("chain-id", 1337, "EIP-712 chain id")
		contract      = flag.String("contract", "0x000000000000000000000000000000000000e712", "engine address (verifying contract)")
	)
	flag.Parse()

	if err := run(options{
		keyHex: *keyHex, side: *side, tif: *tif, price: *price, amount: *amount,
		pairID: *pairID, validFor: *validFor, networkFee: *networkFee, nonce: *nonce,
		toCancel: *toCancel, toFill: *toFill, cancelOnly: *cancelOnly,
		domainName: *domainName, domainVersion: *domainVersion, chainID: *chainID, contract: *contract,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	keyHex, side, tif, price, amount string
	pairID                           uint
	validFor                         time.Duration
	networkFee, nonce                string
	toCancel, toFill                 string
	cancelOnly                       bool
	domainName, domainVersion        string
	chainID                          int64
	contract                         string
}

func run(o options) error {
	signer, err := loadKey(o.keyHex)
	if err != nil {
		return err
	}
	if !common.IsHexAddress(o.contract) {
		return fmt.Errorf("invalid contract address %q", o.contract)
	}
	eip712Signer := crypto.NewEIP712Signer(crypto.EIP712Domain{
		Name:              o.domainName,
		Version:           o.domainVersion,
		ChainID:           big.NewInt(o.chainID),
		VerifyingContract: common.HexToAddress(o.contract),
	})

	n, err := parseNonce(o.nonce)
	if err != nil {
		return err
	}
	cancelIDs, err := parseIDs(o.toCancel)
	if err != nil {
		return err
	}

	tx := &transaction.SignedTransaction{Owner: signer.Address().Hex()}
	if o.cancelOnly {
		fields := transaction.CancelFields{IDs: cancelIDs, Nonce: n}
		sig, err := eip712Signer.SignCancelOrders(signer, fields.EIP712())
		if err != nil {
			return fmt.Errorf("signing cancel: %w", err)
		}
		tx.Type = transaction.TxTypeCancel
		tx.Cancel = fields.Payload()
		tx.Signature = transaction.EncodeSignature(sig)
	} else {
		fields, err := orderFields(o, n, cancelIDs)
		if err != nil {
			return err
		}
		typed, err := fields.EIP712()
		if err != nil {
			return err
		}
		sig, err := eip712Signer.SignSubmitOrder(signer, typed)
		if err != nil {
			return fmt.Errorf("signing order: %w", err)
		}
		recovered, err := eip712Signer.RecoverSubmitOrderSigner(typed, sig)
		if err != nil || recovered != signer.Address() {
			return fmt.Errorf("signature does not recover to %s", signer.Address().Hex())
		}
		payload, err := fields.Payload()
		if err != nil {
			return err
		}
		tx.Type = transaction.TxTypeOrder
		tx.Order = payload
		tx.Signature = transaction.EncodeSignature(sig)
	}

	out, err := json.MarshalIndent(tx, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Signer: %s\n", signer.Address().Hex())
	if o.keyHex == "" {
		fmt.Fprintf(os.Stderr, "Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
	}
	fmt.Println(string(out))
	return nil
}

func loadKey(keyHex string) (*crypto.Signer, error) {
	if keyHex == "" {
		return crypto.GenerateKey()
	}
	return crypto.FromPrivateKeyHex(strings.TrimPrefix(keyHex, "0x"))
}

func orderFields(o options, n uint256.Int, cancelIDs []uint64) (transaction.OrderFields, error) {
	side, err := core.ParseSide(o.side)
	if err != nil {
		return transaction.OrderFields{}, err
	}
	tif, err := core.ParseTimeInForce(o.tif)
	if err != nil {
		return transaction.OrderFields{}, err
	}
	if o.pairID > 0xffff {
		return transaction.OrderFields{}, fmt.Errorf("pair id %d out of range", o.pairID)
	}
	fillIDs, err := parseIDs(o.toFill)
	if err != nil {
		return transaction.OrderFields{}, err
	}

	f := transaction.OrderFields{
		Side:        side,
		PairID:      uint16(o.pairID),
		ValidUntil:  uint64(time.Now().Add(o.validFor).Unix()),
		TimeInForce: tif,
		Nonce:       n,
		IDsToCancel: cancelIDs,
		IDsToFill:   fillIDs,
	}
	for _, a := range []struct {
		dst  *uint256.Int
		name string
		src  string
	}{
		{&f.Price, "price", o.price},
		{&f.Amount, "amount", o.amount},
		{&f.NetworkFee, "network fee", o.networkFee},
	} {
		v, err := uint256.FromDecimal(a.src)
		if err != nil {
			return transaction.OrderFields{}, fmt.Errorf("invalid %s %q: %w", a.name, a.src, err)
		}
		*a.dst = *v
	}
	return f, nil
}

func parseNonce(s string) (uint256.Int, error) {
	if s == "" {
		return crypto.GenerateNonce()
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("invalid nonce %q: %w", s, err)
	}
	return *v, nil
}

func parseIDs(s string) ([]uint64, error) {
	if s == "" {
		return nil, nil
	}
	var ids []uint64
	for _, part := range strings.Split(s, ",") {
		id, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid order id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
