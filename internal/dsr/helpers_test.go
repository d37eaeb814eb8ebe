package dsr

import "github.com/n0remac/uavmesh/internal/wire"

// wire1 builds a 192.168.2.<lastOctet> address for terse table-driven tests.
func wire1(lastOctet byte) wire.IP {
	return wire.IP(uint32(192)<<24 | uint32(168)<<16 | uint32(2)<<8 | uint32(lastOctet))
}
