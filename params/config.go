package params

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"
	"github.com/uhyunpark/zklite/pkg/app/core/market"
)

type Node struct {
	DataDir   string `env:"DATA_DIR" envDefault:"data"`
	APIAddr   string `env:"API_ADDR" envDefault:":8080"`
	LogFile   string `env:"LOG_FILE" envDefault:"data/node.log"`
	Verbose   bool   `env:"VERBOSE" envDefault:"false"`
	DevFaucet bool   `env:"DEV_FAUCET" envDefault:"false"`
	QueueSize int    `env:"QUEUE_SIZE" envDefault:"1024"`
}

// Domain is the EIP-712 signing domain. VerifyingContract doubles as the
// engine's ledger identity.
type Domain struct {
	Name              string         `env:"NAME" envDefault:"zkLite Order Book"`
	Version           string         `env:"VERSION" envDefault:"v1"`
	ChainID           int64          `env:"CHAIN_ID" envDefault:"1337"`
	VerifyingContract common.Address `env:"VERIFYING_CONTRACT" envDefault:"0x000000000000000000000000000000000000e712"`
}

type Kafka struct {
	Brokers []string `env:"BROKERS"`
	Topic   string   `env:"TOPIC" envDefault:"zklite.events"`
}

type Config struct {
	Node        Node           `envPrefix:"NODE_"`
	Domain      Domain         `envPrefix:"DOMAIN_"`
	Kafka       Kafka          `envPrefix:"KAFKA_"`
	Admin       common.Address `env:"ADMIN_ADDRESS" envDefault:"0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"`
	Relayer     common.Address `env:"RELAYER_ADDRESS" envDefault:"0x70997970C51812dc3A010C7d01b50e0d17dc79C8"`
	CORSOrigins []string       `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`

	// GenesisPairs is created on an empty store, in order.
	GenesisPairs string `env:"GENESIS_PAIRS"`
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	var err error
	if envPath != "" {
		err = godotenv.Load(envPath)
	} else {
		err = godotenv.Load()
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load env file: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Node.QueueSize <= 0 {
		return Config{}, fmt.Errorf("NODE_QUEUE_SIZE must be positive, got %d", cfg.Node.QueueSize)
	}
	if _, err := cfg.Pairs(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Pairs parses GenesisPairs:
// base:quote:priceDecimals:minQuote:minFeeQuote:takerBps:makerBps;...
func (c Config) Pairs() ([]market.Params, error) {
	var out []market.Params
	for i, raw := range strings.Split(c.GenesisPairs, ";") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		p, err := parsePair(raw)
		if err != nil {
			return nil, fmt.Errorf("GENESIS_PAIRS entry %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func parsePair(raw string) (market.Params, error) {
	f := strings.Split(raw, ":")
	if len(f) != 7 {
		return market.Params{}, fmt.Errorf("want 7 fields, got %d in %q", len(f), raw)
	}
	for _, addr := range f[:2] {
		if !common.IsHexAddress(addr) {
			return market.Params{}, fmt.Errorf("invalid asset address %q", addr)
		}
	}
	decimals, err := strconv.ParseUint(f[2], 10, 8)
	if err != nil {
		return market.Params{}, fmt.Errorf("invalid price decimals %q: %w", f[2], err)
	}
	minQuote, err := uint256.FromDecimal(f[3])
	if err != nil {
		return market.Params{}, fmt.Errorf("invalid min quote %q: %w", f[3], err)
	}
	minFee, err := uint256.FromDecimal(f[4])
	if err != nil {
		return market.Params{}, fmt.Errorf("invalid fee threshold %q: %w", f[4], err)
	}
	taker, err := strconv.ParseUint(f[5], 10, 16)
	if err != nil {
		return market.Params{}, fmt.Errorf("invalid taker bps %q: %w", f[5], err)
	}
	maker, err := strconv.ParseUint(f[6], 10, 16)
	if err != nil {
		return market.Params{}, fmt.Errorf("invalid maker bps %q: %w", f[6], err)
	}

	p := market.Params{
		BaseAsset:            common.HexToAddress(f[0]),
		QuoteAsset:           common.HexToAddress(f[1]),
		PriceDecimals:        uint8(decimals),
		MinExecutableQuote:   *minQuote,
		MinQuoteFeeThreshold: *minFee,
		TakerFeeBps:          uint16(taker),
		MakerFeeBps:          uint16(maker),
	}
	return p, p.Validate()
}
