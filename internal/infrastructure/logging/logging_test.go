package logging

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"nativebridge/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, parseLevel(" warning "))
	require.Equal(t, slog.LevelError, parseLevel("error"))
	require.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestInitWithFile(t *testing.T) {
	previous := slog.Default()
	defer slog.SetDefault(previous)

	path := filepath.Join(t.TempDir(), "bridge.log")
	closer, err := Init(Config{Level: "info", File: path, MaxSizeMB: 1, MaxBackups: 1})
	require.NoError(t, err)
	require.NotNil(t, closer)
	slog.Info("hello")
	require.NoError(t, closer.Close())
	require.FileExists(t, path)
}

func TestInitWithoutFile(t *testing.T) {
	previous := slog.Default()
	defer slog.SetDefault(previous)

	closer, err := Init(Config{})
	require.NoError(t, err)
	require.Nil(t, closer)
}

func TestEventLogger(t *testing.T) {
	var buf bytes.Buffer
	sink := NewEventLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	err := sink.Publish(context.Background(), []domain.Event{{
		Type:       domain.EventTransferSent,
		Recipient:  common.HexToHash("0x0b"),
		Chain:      2,
		TransferID: 3,
		USDAmount:  uint256.NewInt(40),
	}})
	require.NoError(t, err)
	out := buf.String()
	require.Contains(t, out, "type=transfer_sent")
	require.Contains(t, out, "transfer_id=3")
	require.Contains(t, out, "usd_amount=40")
	require.NotContains(t, out, "account=")
}
