//go:build linux

package ble

import (
	"fmt"

	"tinygo.org/x/bluetooth"
)

type peripheralState struct {
	adv *bluetooth.Advertisement
}

func (a *TinyGoAdapter) Address() (string, error) {
	mac, err := a.adapter.Address()
	if err != nil {
		return "", fmt.Errorf("ble: adapter address: %w", err)
	}
	return mac.String(), nil
}

func (a *TinyGoAdapter) AddService(spec ServiceSpec) ([]LocalCharacteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(spec.UUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parse service UUID: %w", err)
	}

	handles := make([]bluetooth.Characteristic, len(spec.Characteristics))
	configs := make([]bluetooth.CharacteristicConfig, len(spec.Characteristics))
	for i, cs := range spec.Characteristics {
		charUUID, err := bluetooth.ParseUUID(cs.UUID)
		if err != nil {
			return nil, fmt.Errorf("ble: parse characteristic UUID: %w", err)
		}
		cfg := bluetooth.CharacteristicConfig{
			Handle: &handles[i],
			UUID:   charUUID,
			Value:  cs.Value,
			Flags:  permissions(cs),
		}
		if cs.OnWrite != nil {
			onWrite := cs.OnWrite
			cfg.WriteEvent = func(_ bluetooth.Connection, _ int, value []byte) {
				buf := make([]byte, len(value))
				copy(buf, value)
				onWrite(buf)
			}
		}
		configs[i] = cfg
	}

	if err := a.adapter.AddService(&bluetooth.Service{
		UUID:            svcUUID,
		Characteristics: configs,
	}); err != nil {
		return nil, fmt.Errorf("ble: add service %s: %w", spec.UUID, err)
	}

	chars := make([]LocalCharacteristic, len(handles))
	for i := range handles {
		chars[i] = &tinyGoLocalCharacteristic{char: &handles[i]}
	}
	return chars, nil
}

func permissions(cs CharacteristicSpec) bluetooth.CharacteristicPermissions {
	var p bluetooth.CharacteristicPermissions
	if cs.Read {
		p |= bluetooth.CharacteristicReadPermission
	}
	if cs.Write {
		p |= bluetooth.CharacteristicWritePermission | bluetooth.CharacteristicWriteWithoutResponsePermission
	}
	if cs.Notify {
		p |= bluetooth.CharacteristicNotifyPermission
	}
	return p
}

func (a *TinyGoAdapter) Advertise(opts AdvertOptions) error {
	uuids := make([]bluetooth.UUID, 0, len(opts.ServiceUUIDs))
	for _, s := range opts.ServiceUUIDs {
		u, err := bluetooth.ParseUUID(s)
		if err != nil {
			return fmt.Errorf("ble: parse advertised UUID: %w", err)
		}
		uuids = append(uuids, u)
	}

	a.mu.Lock()
	if a.peripheral.adv == nil {
		a.peripheral.adv = a.adapter.DefaultAdvertisement()
	}
	adv := a.peripheral.adv
	a.mu.Unlock()

	if err := adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    opts.LocalName,
		ServiceUUIDs: uuids,
	}); err != nil {
		return fmt.Errorf("ble: configure advertisement: %w", err)
	}
	if err := adv.Start(); err != nil {
		return fmt.Errorf("ble: start advertisement: %w", err)
	}
	return nil
}

func (a *TinyGoAdapter) StopAdvertising() error {
	a.mu.Lock()
	adv := a.peripheral.adv
	a.mu.Unlock()
	if adv == nil {
		return nil
	}
	return adv.Stop()
}

// Compile-time check that TinyGoAdapter hosts services on Linux.
var _ PeripheralAdapter = (*TinyGoAdapter)(nil)

type tinyGoLocalCharacteristic struct {
	char *bluetooth.Characteristic
}

func (c *tinyGoLocalCharacteristic) Notify(data []byte) error {
	_, err := c.char.Write(data)
	return err
}
