package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"imesync/internal/config"
	"imesync/internal/engine"
	"imesync/internal/inputmode"
	"imesync/internal/ipc"
	"imesync/internal/mockengine"
	"imesync/internal/modestore"
	"imesync/internal/textservice"
)

// serviceOptions maps the configuration onto text service flags.
func serviceOptions(cfg *config.Config) textservice.Options {
	return textservice.Options{
		KanaInput:              cfg.InputMode.KanaInput,
		UseIndicator:           cfg.InputMode.UseIndicator,
		SendContext:            cfg.Surrounding.SendContext,
		RespectHostModeChanges: cfg.InputMode.RespectHostModeChanges,
		SurroundingRadius:      cfg.Surrounding.Radius,
	}
}

// defaultHostState is what a fresh mode store reports: open, hiragana.
func defaultHostState(kana bool) modestore.State {
	return modestore.StateFor(inputmode.State{Open: true, Mode: inputmode.Hiragana}, kana)
}

// openModeStore opens the configured host-visible mode store.
func openModeStore(cfg *config.Config) (modestore.Store, error) {
	initial := defaultHostState(cfg.InputMode.KanaInput)
	switch cfg.ModeStore.Backend {
	case "", "memory":
		return modestore.NewMemory(initial), nil
	case "sqlite":
		return modestore.OpenSQLite(cfg.ModeStore.Path, cfg.ModeStore.Scope, initial)
	default:
		return nil, fmt.Errorf("unknown mode store backend %q", cfg.ModeStore.Backend)
	}
}

// openPublisher connects to the session bus when D-Bus broadcasts are
// enabled. A missing bus is logged and publishing is skipped.
func openPublisher(cfg *config.Config, logger *slog.Logger) (modestore.Publisher, io.Closer) {
	if !cfg.ModeStore.DBus {
		return nil, nil
	}
	pub, err := modestore.ConnectSessionBus()
	if err != nil {
		logger.Warn("mode broadcasts disabled", "error", err)
		return nil, nil
	}
	return pub, pub
}

// engineClient returns the engine to drive: a socket client when remote is
// set, otherwise an in-process mock engine.
func engineClient(ctx context.Context, cfg *config.Config, remote bool, logger *slog.Logger) (engine.Client, io.Closer, error) {
	if !remote {
		return mockengine.New(1, logger), nil, nil
	}
	cc := ipc.DefaultClientConfig("")
	cc.SocketPath = cfg.Engine.SocketPath
	cc.Codec = cfg.Engine.Codec
	cc.ClientVersion = version()
	cc.RequestTimeout = time.Duration(cfg.Engine.TimeoutMs) * time.Millisecond
	cc.ConnectTimeout = time.Duration(cfg.Engine.ConnectTimeoutMs) * time.Millisecond

	client, err := ipc.Dial(ctx, cc)
	if err != nil {
		if errors.Is(err, ipc.ErrEngineNotRunning) {
			return nil, nil, fmt.Errorf("%w at %s; start it with 'imesync engine serve'", err, cc.SocketPath)
		}
		return nil, nil, err
	}
	logger.Debug("connected to engine", "session", client.SessionID(), "server_version", client.ServerVersion())
	return client, client, nil
}
