package main

import (
	"context"
	"errors"
	"io"

	"github.com/goccy/go-json"
	"github.com/samcharles93/nnaccel/internal/driver"
	"github.com/samcharles93/nnaccel/internal/engine"
	"github.com/samcharles93/nnaccel/internal/logger"
	"github.com/samcharles93/nnaccel/internal/status"
)

// openDevice opens the configured accelerator. When the device is optional
// and absent it returns nil, nil and the caller stays on the host.
func openDevice(ctx context.Context, required bool) (*driver.Device, error) {
	log := logger.FromContext(ctx)
	if noDevice {
		if required {
			return nil, status.New(status.DeviceNotFound, "device disabled by --no-device")
		}
		return nil, nil
	}
	var port driver.Port
	if simulate {
		port = driver.NewSimPort(driver.SimConfig{Execute: engine.Emulate})
	} else {
		port = driver.NewPort()
	}
	dev, err := driver.Open(ctx, port, int(deviceIndex), settings.Driver.Apply(driver.DefaultConfig()))
	if err != nil {
		if !required && errors.Is(err, status.DeviceNotFound) {
			log.Info("no accelerator, running on the host", "device", deviceIndex, "reason", err)
			return nil, nil
		}
		return nil, err
	}
	return dev, nil
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}
