package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Darkpool struct {
	// MaxSlippageBps bounds the deviation between an execution price and
	// the oracle at settlement time.
	MaxSlippageBps uint64
	// FeeRateBps is charged on settled size and accumulated in the pool
	// stats.
	FeeRateBps uint64
	// MinOrderSize / MaxOrderSize bound order intake, USD with 6 implied
	// decimals. MaxOrderSize 0 disables the upper bound.
	MinOrderSize uint64
	MaxOrderSize uint64
	// BatchInterval paces matching rounds.
	BatchInterval time.Duration
}

type Node struct {
	APIAddr string
	DBPath  string
	LogFile string
	// AuthorityKey is the matching authority's secp256k1 private key in
	// hex. Empty means generate an ephemeral key (devnet).
	AuthorityKey string
}

type Cluster struct {
	// Local runs the circuits in-process instead of reaching a remote
	// cluster.
	Local      bool
	ListenAddr string   // multiaddr for the cluster client
	Bootstrap  []string // multiaddrs of known cluster members
	// Members is the BLS member count for a local dev cluster.
	Members int
}

type Config struct {
	Darkpool Darkpool
	Node     Node
	Cluster  Cluster
}

func Default() Config {
	return Config{
		Darkpool: Darkpool{
			MaxSlippageBps: 500, // 5%
			FeeRateBps:     10,  // 0.1%
			MinOrderSize:   1_000_000,
			MaxOrderSize:   0,
			BatchInterval:  2 * time.Second,
		},
		Node: Node{
			APIAddr: ":8080",
			DBPath:  "darkpool.db",
			LogFile: "darkpool.log",
		},
		Cluster: Cluster{
			Local:   true,
			Members: 3,
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("DARKPOOL_MAX_SLIPPAGE_BPS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Darkpool.MaxSlippageBps = n
		}
	}
	if v := os.Getenv("DARKPOOL_FEE_RATE_BPS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Darkpool.FeeRateBps = n
		}
	}
	if v := os.Getenv("DARKPOOL_MIN_ORDER_SIZE"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Darkpool.MinOrderSize = n
		}
	}
	if v := os.Getenv("DARKPOOL_MAX_ORDER_SIZE"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Darkpool.MaxOrderSize = n
		}
	}
	if v := os.Getenv("DARKPOOL_BATCH_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Darkpool.BatchInterval = time.Duration(ms) * time.Millisecond
		}
	}

	if v := os.Getenv("NODE_API_ADDR"); v != "" {
		cfg.Node.APIAddr = v
	}
	if v := os.Getenv("NODE_DB_PATH"); v != "" {
		cfg.Node.DBPath = v
	}
	if v := os.Getenv("NODE_LOG_FILE"); v != "" {
		cfg.Node.LogFile = v
	}
	if v := os.Getenv("NODE_AUTHORITY_KEY"); v != "" {
		cfg.Node.AuthorityKey = v
	}

	if v := os.Getenv("CLUSTER_LOCAL"); v != "" {
		cfg.Cluster.Local = v == "true"
	}
	if v := os.Getenv("CLUSTER_LISTEN_ADDR"); v != "" {
		cfg.Cluster.ListenAddr = v
	}
	if v := os.Getenv("CLUSTER_BOOTSTRAP"); v != "" {
		cfg.Cluster.Bootstrap = strings.Split(v, ",")
	}
	if v := os.Getenv("CLUSTER_MEMBERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Cluster.Members = n
		}
	}

	return cfg
}
