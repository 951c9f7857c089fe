package serialport

import "fmt"

// UnknownID marks a vendor or product identifier that could not be resolved,
// e.g. for serial hardware that is not attached over USB.
const UnknownID int32 = -1

// Info describes one serial port known to the registry.
type Info struct {
	// Name is the device node name under /dev, e.g. "ttyUSB0".
	Name string `json:"name"`

	// Subsystem is the bus classification of the backing device, e.g.
	// "usb" or "serial-base". "virtual" when there is no backing device.
	Subsystem string `json:"subsystem"`

	// DriverType is the driver class from the kernel driver table:
	// "serial", "console", "system", "pty".
	DriverType string `json:"driver_type"`

	// VendorID and ProductID identify the USB device the port belongs to,
	// or UnknownID for non-USB ports.
	VendorID  int32 `json:"vendor_id"`
	ProductID int32 `json:"product_id"`
}

func (i Info) String() string {
	if i.VendorID == UnknownID {
		return fmt.Sprintf("%s (%s/%s)", i.Name, i.Subsystem, i.DriverType)
	}
	return fmt.Sprintf("%s (%s/%s %04x:%04x)", i.Name, i.Subsystem, i.DriverType, i.VendorID, i.ProductID)
}
