// Package ble connects scoreboard devices and the hub over Bluetooth Low
// Energy. It covers both device roles: Client scans for the hub and writes to
// it (BLE central), Server advertises a data characteristic and waits for the
// hub to connect (BLE peripheral).
package ble

import "context"

// Scoreboard BLE UUIDs. Both sides share them out of band.
const (
	ServiceUUID = "c9b9a344-a062-4e55-a507-441c7e610e2c"
	RXCharUUID  = "29f80071-9a06-426b-8c26-02ae5df749a4" // device -> hub, also the peripheral data characteristic
	TXCharUUID  = "a43359d2-e50e-43c9-ad86-b77ee5c6524e" // hub -> device commands
)

// UUIDs is the set of GATT identifiers used on the link.
type UUIDs struct {
	Service string
	RX      string
	TX      string
}

// DefaultUUIDs returns the built-in scoreboard identifiers.
func DefaultUUIDs() UUIDs {
	return UUIDs{Service: ServiceUUID, RX: RXCharUUID, TX: TXCharUUID}
}

// Characteristic represents a remote BLE GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic.
	Write(data []byte) error
	// Read returns the current value of the characteristic.
	Read() ([]byte, error)
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name string
	MAC  string
	RSSI int
	// HasService is set when the device advertised the filter's service UUID.
	HasService bool
}

// ScanFilter selects which advertisements Scan reports.
type ScanFilter struct {
	ServiceUUID string
	// IncludeOthers also reports devices that do not advertise ServiceUUID.
	IncludeOthers bool
	// First stops the scan at the first device advertising ServiceUUID.
	First bool
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter in the central role.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan discovers BLE peripherals matching filter.
	// Returns discovered devices until ctx is cancelled or timeout.
	Scan(ctx context.Context, filter ScanFilter) ([]Device, error)
	// Connect establishes a connection to the device with the given MAC address.
	Connect(ctx context.Context, mac string) (Connection, error)
}

// LocalCharacteristic is a characteristic hosted by this process.
type LocalCharacteristic interface {
	// Notify replaces the value and notifies subscribed centrals.
	Notify(data []byte) error
}

// CharacteristicSpec describes a characteristic to host.
type CharacteristicSpec struct {
	UUID    string
	Read    bool
	Write   bool
	Notify  bool
	Value   []byte
	OnWrite func(data []byte)
}

// ServiceSpec describes a GATT service to host.
type ServiceSpec struct {
	UUID            string
	Characteristics []CharacteristicSpec
}

// AdvertOptions configures the advertisement.
type AdvertOptions struct {
	LocalName    string
	ServiceUUIDs []string
}

// PeripheralAdapter abstracts the BLE hardware adapter in the peripheral role.
type PeripheralAdapter interface {
	Enable() error
	// Address returns the adapter's own address.
	Address() (string, error)
	// AddService registers a service. The returned characteristics are in
	// the order of spec.Characteristics.
	AddService(spec ServiceSpec) ([]LocalCharacteristic, error)
	Advertise(opts AdvertOptions) error
	StopAdvertising() error
	// OnConnect registers a callback for centrals connecting and disconnecting.
	OnConnect(callback func(mac string, connected bool))
}
