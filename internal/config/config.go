// Package config loads binary configuration from the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type Server struct {
	Addr        string `env:"ADDR" envDefault:":8080"`
	DatabaseDSN string `env:"DB_DSN,required"`
	JWTSecret   string `env:"JWT_SECRET,required"`
	// Empty means single-instance mode: events loop back in-process
	// instead of fanning out through Redis.
	RedisAddr string `env:"REDIS_ADDR"`
}

type Client struct {
	ServerURL      string        `env:"CHATWIRE_URL" envDefault:"http://localhost:8080"`
	ConnectTimeout time.Duration `env:"CHATWIRE_CONNECT_TIMEOUT" envDefault:"20s"`
	PollInterval   time.Duration `env:"CHATWIRE_POLL_INTERVAL" envDefault:"3s"`
}

func LoadServer() (Server, error) {
	var c Server
	err := env.Parse(&c)
	return c, err
}

func LoadClient() (Client, error) {
	var c Client
	err := env.Parse(&c)
	return c, err
}
