package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"github.com/observer/saucer/internal/config"
	"github.com/observer/saucer/internal/domain"
	"github.com/observer/saucer/internal/engine"
	"github.com/observer/saucer/internal/rest"
	"github.com/observer/saucer/internal/session"
	"github.com/observer/saucer/internal/transport"
)

func main() {
	// Local overrides for development; missing file is fine
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// The terminal belongs to the UI, so structured logs go to a file
	// next to the state database.
	logPath := filepath.Join(filepath.Dir(cfg.StatePath), "saucer.log")
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		slog.Error("failed to open log file", "path", logPath, "error", err)
		os.Exit(1)
	}
	defer logFile.Close()
	level := slog.LevelInfo
	if cfg.IsDevelopment() {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(logFile, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	sess, err := session.Open(cfg.StatePath)
	if err != nil {
		slog.Error("failed to open state store", "path", cfg.StatePath, "error", err)
		os.Exit(1)
	}
	defer sess.Close()

	token, err := resolveToken(sess)
	if err != nil {
		if errors.Is(err, domain.ErrTokenMissing) {
			os.Stderr.WriteString("no session token: set SAUCER_TOKEN and run again\n")
		} else {
			os.Stderr.WriteString("stored session is invalid, set SAUCER_TOKEN and run again\n")
		}
		os.Exit(1)
	}

	me, err := session.Identity(token)
	if err != nil {
		slog.Error("session token rejected", "error", err)
		os.Stderr.WriteString("session token is expired or malformed, set SAUCER_TOKEN and run again\n")
		os.Exit(1)
	}
	logger.Info("session resolved", "user_id", me.UserID, "username", me.Username)

	eng := engine.New(engine.Options{
		Logger:   logger,
		Tr:       transport.NewManager(cfg.ServerURL, cfg.BackoffBase, cfg.MaxRetries, logger),
		API:      rest.NewClient(cfg.APIBaseURL, token, logger),
		Sess:     sess,
		Me:       me,
		Token:    token,
		PageSize: cfg.HistoryPageSize,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	if err := eng.Connect(ctx); err != nil {
		slog.Error("initial connect failed", "error", err)
		os.Exit(1)
	}

	p := tea.NewProgram(newModel(eng, me), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		slog.Error("ui exited with error", "error", err)
		os.Exit(1)
	}
}

// resolveToken prefers a fresh SAUCER_TOKEN (persisting it for next time)
// over the stored one. Acquiring tokens is the login tool's job, not ours.
func resolveToken(sess *session.StateStore) (string, error) {
	if tok := os.Getenv("SAUCER_TOKEN"); tok != "" {
		if err := sess.SetToken(tok); err != nil {
			slog.Warn("could not persist token", "error", err)
		}
		return tok, nil
	}
	return sess.Token()
}
