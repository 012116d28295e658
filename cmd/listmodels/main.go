package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hanna4328/chat-bot/internal/config"
	"github.com/hanna4328/chat-bot/internal/models"
	"github.com/hanna4328/chat-bot/internal/services"
)

func main() {
	all := flag.Bool("all", false, "Include models that cannot generate content")
	timeout := flag.Duration("timeout", 15*time.Second, "Request timeout")
	flag.Parse()

	cfg := config.Load()
	cfg.LogDeprecations(slog.Default())
	if !cfg.HasCredential() {
		fmt.Fprintf(os.Stderr, "Missing API key: set %s\n", config.CredentialKey)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	list, err := services.NewModelCatalog(cfg.GeminiAPIKey, "").List(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list models: %v\n", err)
		os.Exit(1)
	}

	printModels(os.Stdout, list, *all)
}

func printModels(w io.Writer, list []models.ModelSummary, all bool) {
	n := 0
	for _, m := range list {
		if !all && !services.SupportsGenerateContent(m) {
			continue
		}
		n++
		fmt.Fprintf(w, "%s", m.Name)
		if m.DisplayName != "" {
			fmt.Fprintf(w, " (%s)", m.DisplayName)
		}
		fmt.Fprintln(w)
		if len(m.GenerationMethods) > 0 {
			fmt.Fprintf(w, "  methods: %s\n", strings.Join(m.GenerationMethods, ", "))
		}
		if m.InputTokenLimit > 0 || m.OutputTokenLimit > 0 {
			fmt.Fprintf(w, "  tokens: in %d / out %d\n", m.InputTokenLimit, m.OutputTokenLimit)
		}
	}
	fmt.Fprintf(w, "\n%d models\n", n)
}
