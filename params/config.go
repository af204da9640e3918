package params

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Node holds process-local configuration (never consensus-critical).
type Node struct {
	DataDir string
	APIAddr string
	LogFile string

	// BlockInterval throttles the devnet block loop. Production block
	// pacing comes from the consensus layer, not from here.
	BlockInterval time.Duration
}

// Config is the full node configuration.
type Config struct {
	ChainID string
	Node    Node
}

// Default returns devnet defaults.
func Default() Config {
	return Config{
		ChainID: "optimic-devnet",
		Node: Node{
			DataDir:       "./data",
			APIAddr:       ":8080",
			LogFile:       "data/node.log",
			BlockInterval: 1 * time.Second,
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

	if v := os.Getenv("CHAIN_ID"); v != "" {
		cfg.ChainID = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.Node.APIAddr = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Node.LogFile = v
	}
	if v := os.Getenv("BLOCK_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Node.BlockInterval = time.Duration(ms) * time.Millisecond
		}
	}

	return cfg
}
