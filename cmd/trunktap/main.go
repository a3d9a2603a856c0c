// trunktap builds and tears down a VLAN trunk topology: a trunk interface
// split into per-VLAN sub-interfaces, one bridge per VLAN, and the tap
// interface of a VPN tunnel (tinc or OpenVPN) carrying the same VLANs to a
// remote site. It runs as the tunnel's up and down hook.
//
// Usage:
//
//	trunktap -start -i eth1 -t tap0 -b trunk0 -v ./vlans/
//	trunktap -stop  -i eth1 -t tap0 -b trunk0 -v ./vlans/
//	trunktap status -i eth1 -t tap0 -b trunk0
//	trunktap watch  -i eth1 -t tap0 -b trunk0 --interval 30s
package main

import (
	"os"

	"github.com/schreiberstein/trunktap/cmd/trunktap/app"
)

func main() {
	os.Exit(app.Main(os.Args[1:], os.Stdout, os.Stderr))
}
