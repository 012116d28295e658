package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v9"

	"github.com/hanna4328/chat-bot/internal/chatclient"
)

type Config struct {
	APIBaseURL string        `env:"ONWARD_API_BASE_URL" envDefault:"http://localhost:4000"`
	Model      string        `env:"ONWARD_MODEL"`
	Timeout    time.Duration `env:"ONWARD_TIMEOUT" envDefault:"65s"`
	NoColor    bool          `env:"NO_COLOR"`
}

func main() {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "parsing env config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	conv := chatclient.NewConversation(
		chatclient.NewClient(cfg.APIBaseURL, cfg.Timeout),
		chatclient.Options{Model: cfg.Model, Greet: true},
	)

	r := newREPL(conv, os.Stdin, os.Stdout, cfg.NoColor)
	if err := r.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
