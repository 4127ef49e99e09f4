// Package params holds daemon configuration, loaded from environment
// variables with .env file support. Priority: ENV > .env file > defaults.
package params

import (
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type Node struct {
	DataDir      string
	ListenAddr   string
	LogFile      string // empty disables file logging
	JournalFile  string // empty disables the instruction journal
	FeeRecipient common.Address
}

// Genesis describes the market bootstrapped at startup if it does not
// already exist on disk.
type Genesis struct {
	Market           common.Address
	Authority        common.Address
	BaseMint         common.Address
	QuoteMint        common.Address
	MinBaseOrderSize uint64
	TickSize         uint64
	FeeRateBps       uint16
}

type Feeder struct {
	Enabled    bool
	NumTraders int
	Interval   time.Duration
	MidPrice   uint64
	PriceBand  uint64
}

type Config struct {
	Node    Node
	Genesis Genesis
	Feeder  Feeder
}

func Default() Config {
	return Config{
		Node: Node{
			DataDir:      "data",
			ListenAddr:   ":8080",
			JournalFile:  "data/instructions.log",
			FeeRecipient: common.HexToAddress("0x00000000000000000000000000000000000Fee5"),
		},
		Genesis: Genesis{
			Market:           common.HexToAddress("0x0000000000000000000000000000000050100001"),
			Authority:        common.HexToAddress("0x0000000000000000000000000000000000000a01"),
			BaseMint:         common.HexToAddress("0x000000000000000000000000000000000050c001"),
			QuoteMint:        common.HexToAddress("0x000000000000000000000000000000000005dc01"),
			MinBaseOrderSize: 1,
			TickSize:         1,
			FeeRateBps:       30,
		},
		Feeder: Feeder{
			Enabled:    false,
			NumTraders: 20,
			Interval:   100 * time.Millisecond,
			MidPrice:   50_000,
			PriceBand:  2_500,
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.Node.ListenAddr = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Node.LogFile = v
	}
	if v := os.Getenv("JOURNAL_FILE"); v != "" {
		cfg.Node.JournalFile = v
	}
	if v := os.Getenv("FEE_RECIPIENT"); common.IsHexAddress(v) {
		cfg.Node.FeeRecipient = common.HexToAddress(v)
	}

	if v := os.Getenv("GENESIS_MARKET"); common.IsHexAddress(v) {
		cfg.Genesis.Market = common.HexToAddress(v)
	}
	if v := os.Getenv("GENESIS_AUTHORITY"); common.IsHexAddress(v) {
		cfg.Genesis.Authority = common.HexToAddress(v)
	}
	if v := os.Getenv("GENESIS_BASE_MINT"); common.IsHexAddress(v) {
		cfg.Genesis.BaseMint = common.HexToAddress(v)
	}
	if v := os.Getenv("GENESIS_QUOTE_MINT"); common.IsHexAddress(v) {
		cfg.Genesis.QuoteMint = common.HexToAddress(v)
	}
	if n, ok := envUint("GENESIS_MIN_BASE_ORDER_SIZE"); ok {
		cfg.Genesis.MinBaseOrderSize = n
	}
	if n, ok := envUint("GENESIS_TICK_SIZE"); ok {
		cfg.Genesis.TickSize = n
	}
	if n, ok := envUint("GENESIS_FEE_RATE_BPS"); ok && n <= 10_000 {
		cfg.Genesis.FeeRateBps = uint16(n)
	}

	if v := os.Getenv("FEEDER_ENABLED"); v != "" {
		cfg.Feeder.Enabled = v == "true"
	}
	if n, ok := envUint("FEEDER_NUM_TRADERS"); ok && n > 0 {
		cfg.Feeder.NumTraders = int(n)
	}
	if n, ok := envUint("FEEDER_INTERVAL_MS"); ok && n > 0 {
		cfg.Feeder.Interval = time.Duration(n) * time.Millisecond
	}
	if n, ok := envUint("FEEDER_MID_PRICE"); ok && n > 0 {
		cfg.Feeder.MidPrice = n
	}
	if n, ok := envUint("FEEDER_PRICE_BAND"); ok {
		cfg.Feeder.PriceBand = n
	}

	return cfg
}

func envUint(key string) (uint64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
