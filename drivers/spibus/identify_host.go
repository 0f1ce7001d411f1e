//go:build !tinygo

package spibus

var knownParts = map[uint32]DeviceInfo{
	0xEF4014: {Name: "W25Q80", Size: 1 << 20},
	0xEF4015: {Name: "W25Q16", Size: 1 << 21},
	0xEF4016: {Name: "W25Q32", Size: 1 << 22},
	0xEF4017: {Name: "W25Q64", Size: 1 << 23},
	0xEF4018: {Name: "W25Q128", Size: 1 << 24},
	0xEF6015: {Name: "W25Q16FW", Size: 1 << 21},
	0xC22015: {Name: "MX25L1606", Size: 1 << 21},
	0xC84015: {Name: "GD25Q16C", Size: 1 << 21},
	0x014015: {Name: "S25FL216K", Size: 1 << 21},
}

// Describe looks up a known part by its JEDEC ID.
func Describe(id JEDECID) (DeviceInfo, bool) {
	info, ok := knownParts[id.Uint32()]
	return info, ok
}
