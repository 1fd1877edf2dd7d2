//go:build !linux

package ble

import "errors"

// ErrPeripheralUnsupported is returned by the peripheral methods where the
// platform backend cannot host GATT services.
var ErrPeripheralUnsupported = errors.New("ble: peripheral role is only supported on linux")

type peripheralState struct{}

func (a *TinyGoAdapter) Address() (string, error) {
	return "", ErrPeripheralUnsupported
}

func (a *TinyGoAdapter) AddService(ServiceSpec) ([]LocalCharacteristic, error) {
	return nil, ErrPeripheralUnsupported
}

func (a *TinyGoAdapter) Advertise(AdvertOptions) error {
	return ErrPeripheralUnsupported
}

func (a *TinyGoAdapter) StopAdvertising() error {
	return nil
}

var _ PeripheralAdapter = (*TinyGoAdapter)(nil)
