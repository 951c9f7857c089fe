package sysfs

import (
	"fmt"
	"strconv"

	"serialportd/internal/serialport"
)

// ID carries the USB vendor/product identity of a device,
// serialport.UnknownID for either half that could not be resolved.
type ID struct {
	Vendor  int32
	Product int32
}

// UnknownID is the identity of a device with no resolvable USB ancestry.
var UnknownID = ID{Vendor: serialport.UnknownID, Product: serialport.UnknownID}

// UsbID walks the device's ancestors on the usb subsystem and returns the
// identity of the first one exposing a readable idVendor attribute. A TTY
// function interface usually sits several levels below the USB device that
// owns the identity, e.g.
//
//	/sys/devices/pci0000:00/0000:00:14.0/usb3/3-8/3-8:1.1/tty/ttyACM0
//
// where the identity lives on 3-8. A missing or malformed idProduct on the
// matched ancestor degrades to UnknownID for the product half only.
func UsbID(dev *Device) ID {
	const subsystem = "usb"
	for cur := dev.ParentWithSubsystem(subsystem); cur != nil; cur = cur.ParentWithSubsystem(subsystem) {
		vendor, err := readHexAttr(cur, "idVendor")
		if err != nil {
			continue
		}
		product, err := readHexAttr(cur, "idProduct")
		if err != nil {
			product = serialport.UnknownID
		}
		return ID{Vendor: vendor, Product: product}
	}
	return UnknownID
}

func readHexAttr(dev *Device, name string) (int32, error) {
	value, err := dev.Attr(name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(value, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("attribute %s of %s: %w", name, dev.Path(), err)
	}
	return int32(n), nil
}
