package main

import (
	"time"

	"github.com/spf13/viper"
)

func initViperDefaults() {
	// Telegram transport
	viper.SetDefault("telegram.endpoint", "https://api.telegram.org")
	viper.SetDefault("telegram.token", "")
	viper.SetDefault("telegram.poll_timeout", 50*time.Second)

	// Session state store
	viper.SetDefault("redis.addr", "127.0.0.1:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Durable storage (users + claim records)
	viper.SetDefault("db.path", "stakebot.db")

	// Agent daemon
	viper.SetDefault("agent.url", "http://127.0.0.1:8787")
	viper.SetDefault("agent.api_key", "")
	viper.SetDefault("agent.max_handles", 256)

	// Trading backend
	viper.SetDefault("bink.url", "http://127.0.0.1:8080")
	viper.SetDefault("bink.api_key", "")

	// Chain + claim settlement
	viper.SetDefault("chain.rpc_url", "https://bsc-dataseed.binance.org")
	viper.SetDefault("chain.pool_contract", "")
	viper.SetDefault("claims.interval", 5*time.Minute)
	viper.SetDefault("claims.batch_size", 10)
	viper.SetDefault("claims.unlock_delay", 7*24*time.Hour)
	viper.SetDefault("claims.stale_after", 30*time.Minute)
}
