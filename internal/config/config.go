// Package config loads engine configuration from the environment.
package config

import "github.com/kelseyhightower/envconfig"

// EngineConfig configures the campaign execution engine process.
type EngineConfig struct {
	PostgresDSN   string `envconfig:"POSTGRES_DSN" required:"true"`
	ClickHouseDSN string `envconfig:"CLICKHOUSE_DSN"`
	MetricsPort   string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat     string `envconfig:"LOG_FORMAT" default:"json"`

	// Solana
	RPCEndpoint string `envconfig:"SOLANA_RPC_ENDPOINT" required:"true"`
	WSEndpoint  string `envconfig:"SOLANA_WS_ENDPOINT"`

	// Jupiter
	JupiterSwapURL  string `envconfig:"JUPITER_SWAP_URL" default:"https://quote-api.jup.ag/v6"`
	JupiterPriceURL string `envconfig:"JUPITER_PRICE_URL" default:"https://api.jup.ag"`
	CoinGeckoURL    string `envconfig:"COINGECKO_URL" default:"https://api.coingecko.com"`
	SlippageBPS     int    `envconfig:"SLIPPAGE_BPS" default:"300"`

	// Wallets
	FeeWallet       string `envconfig:"FEE_WALLET_ADDRESS" required:"true"`
	SharedWalletKey string `envconfig:"SHARED_WALLET_KEY"` // base58, legacy operator wallet

	// Notifications
	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN"`

	// Engine tuning; defaults are the production values.
	GasBufferLamports      uint64  `envconfig:"GAS_BUFFER_LAMPORTS" default:"12000000"`
	ProtocolFeeLamports    uint64  `envconfig:"PROTOCOL_FEE_LAMPORTS" default:"1000000"`
	MinTradeLamports       uint64  `envconfig:"MIN_TRADE_LAMPORTS" default:"3000000"`
	MatchToleranceLamports uint64  `envconfig:"MATCH_TOLERANCE_LAMPORTS" default:"5000"`
	ActivationRatio        float64 `envconfig:"ACTIVATION_RATIO" default:"0.5"`
	FailureBackoffMinutes  int     `envconfig:"FAILURE_BACKOFF_MINUTES" default:"5"`
}

// LoadEngine reads the engine configuration from the environment.
func LoadEngine() (EngineConfig, error) {
	var cfg EngineConfig
	err := envconfig.Process("", &cfg)
	return cfg, err
}
