package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	DeviceIDKey = "device_id"

	deviceIDBytes = 12
)

// EnsureDeviceID returns the device ID used by anonymous grants. A preset
// ID wins; otherwise the persisted one is reused or a new one is generated
// and persisted.
func EnsureDeviceID(ctx context.Context, config ConfigStore, preset string) (string, error) {
	if preset = strings.TrimSpace(preset); preset != "" {
		return preset, nil
	}

	stored, ok, err := config.GetSetting(ctx, DeviceIDKey)
	if err != nil {
		return "", fmt.Errorf("get device ID: %w", err)
	}

	if ok && stored != "" {
		return stored, nil
	}

	b := make([]byte, deviceIDBytes)
	if _, err = rand.Read(b); err != nil {
		return "", fmt.Errorf("generate device ID: %w", err)
	}

	deviceID := hex.EncodeToString(b)

	if err = config.SetSettings(ctx, map[string]string{DeviceIDKey: deviceID}); err != nil {
		return "", fmt.Errorf("persist device ID: %w", err)
	}

	return deviceID, nil
}
