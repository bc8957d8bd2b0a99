package telegram

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gotd/td/session"
)

const (
	// DriverType is the configured driver type token for the Telegram session.
	DriverType = "telegram"

	defaultSessionFile  = ".cache/telegram/session.json"
	defaultAuthTimeout  = 3 * time.Minute
	defaultSyncInterval = 5 * time.Minute
)

type sessionConfig struct {
	AppID        int    `json:"app_id"`
	AppHash      string `json:"app_hash"`
	RPCTimeout   string `json:"rpc_timeout"`
	AuthTimeout  string `json:"auth_timeout"`
	SyncInterval string `json:"sync_interval"`
	Code         string `json:"code"`
	Phone        string `json:"phone"`
	Password     string `json:"password"`
	SessionFile  string `json:"session_file"`
}

type parsedSessionConfig struct {
	appID        int
	appHash      string
	rpcTimeout   time.Duration
	authTimeout  time.Duration
	syncInterval time.Duration
	code         string
	phone        string
	password     string
	sessionFile  string
}

func parseSessionConfig(raw []byte) (parsedSessionConfig, error) {
	if len(raw) == 0 {
		return parsedSessionConfig{}, fmt.Errorf("missing config")
	}

	var parsed sessionConfig
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return parsedSessionConfig{}, fmt.Errorf("unmarshal: %w", err)
	}

	cfg := parsedSessionConfig{
		appID:        parsed.AppID,
		appHash:      strings.TrimSpace(parsed.AppHash),
		rpcTimeout:   defaultRPCTimeout,
		authTimeout:  defaultAuthTimeout,
		syncInterval: defaultSyncInterval,
		code:         strings.TrimSpace(parsed.Code),
		phone:        strings.TrimSpace(parsed.Phone),
		password:     strings.TrimSpace(parsed.Password),
		sessionFile:  strings.TrimSpace(parsed.SessionFile),
	}
	if cfg.sessionFile == "" {
		cfg.sessionFile = defaultSessionFile
	}

	durations := []struct {
		name   string
		raw    string
		target *time.Duration
	}{
		{name: "rpc_timeout", raw: parsed.RPCTimeout, target: &cfg.rpcTimeout},
		{name: "auth_timeout", raw: parsed.AuthTimeout, target: &cfg.authTimeout},
		{name: "sync_interval", raw: parsed.SyncInterval, target: &cfg.syncInterval},
	}
	for _, duration := range durations {
		value := strings.TrimSpace(duration.raw)
		if value == "" {
			continue
		}
		parsedDuration, err := time.ParseDuration(value)
		if err != nil {
			return parsedSessionConfig{}, fmt.Errorf("parse %s: %w", duration.name, err)
		}
		if parsedDuration <= 0 {
			return parsedSessionConfig{}, fmt.Errorf("parse %s: must be > 0", duration.name)
		}
		*duration.target = parsedDuration
	}

	if cfg.appID <= 0 {
		return parsedSessionConfig{}, fmt.Errorf("app_id must be > 0")
	}
	if cfg.appHash == "" {
		return parsedSessionConfig{}, fmt.Errorf("app_hash is required")
	}

	return cfg, nil
}

func newSessionStorage(path string) (*session.FileStorage, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return nil, fmt.Errorf("empty session file path")
	}

	absPath, err := filepath.Abs(trimmedPath)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute session file path: %w", err)
	}
	sessionDir := filepath.Dir(absPath)
	if err := os.MkdirAll(sessionDir, 0o700); err != nil {
		return nil, fmt.Errorf("create session directory %s: %w", sessionDir, err)
	}

	return &session.FileStorage{Path: absPath}, nil
}
