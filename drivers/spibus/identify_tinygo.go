//go:build tinygo

package spibus

import (
	"tinygo.org/x/drivers/flash"
)

// Describe asks the TinyGo flash driver's device table about id. The
// table carries sizes but not part names, so Name is the hex ID.
func Describe(id JEDECID) (DeviceInfo, bool) {
	attrs := flash.DefaultDeviceIdentifier.Identify(flash.JedecID{
		ManufID:  id.Manufacturer,
		MemType:  id.MemoryType,
		Capacity: id.Capacity,
	})
	if attrs.TotalSize == 0 {
		return DeviceInfo{}, false
	}
	return DeviceInfo{Name: id.String(), Size: attrs.TotalSize}, true
}
