// Package sap maps well-known SAP TCP ports to the NI framed protocol they
// carry.
package sap

import (
	"fmt"
	"sort"

	"firestige.xyz/sapcraft/pkg/packet"
	"firestige.xyz/sapcraft/pkg/sap/diag"
	"firestige.xyz/sapcraft/pkg/sap/ni"
	"firestige.xyz/sapcraft/pkg/sap/router"
)

// Well-known ports.
const (
	PortRouter    = 3299
	PortDiagFirst = 3200
	PortDiagLast  = 3298
)

// ForPort returns the NI frame definition used on port, or the bare NI
// frame when the port is unknown.
func ForPort(port uint16) *packet.Definition {
	switch {
	case port == PortRouter:
		return router.SAPNIRouter
	case port >= PortDiagFirst && port <= PortDiagLast:
		return diag.SAPNIDiag
	}
	return ni.SAPNI
}

// DefaultPorts lists the ports ForPort knows, in ascending order.
func DefaultPorts() []uint16 {
	out := make([]uint16, 0, PortDiagLast-PortDiagFirst+2)
	for p := PortDiagFirst; p <= PortDiagLast; p++ {
		out = append(out, uint16(p))
	}
	return append(out, PortRouter)
}

// ProtocolName describes what ForPort picks for port.
func ProtocolName(port uint16) string {
	switch def := ForPort(port); def {
	case router.SAPNIRouter:
		return "SAPNI/SAPRouter"
	case diag.SAPNIDiag:
		return "SAPNI/SAPDiag"
	default:
		return def.Name()
	}
}

// Stacks maps the display names ProtocolName returns for composite NI
// definitions to those definitions.
func Stacks() map[string]*packet.Definition {
	return map[string]*packet.Definition{
		"SAPNI/SAPRouter": router.SAPNIRouter,
		"SAPNI/SAPDiag":   diag.SAPNIDiag,
	}
}

// Lookup resolves a composite display name or a registered definition name.
func Lookup(name string) (*packet.Definition, error) {
	if def, ok := Stacks()[name]; ok {
		return def, nil
	}
	return packet.Lookup(name)
}

// Ranges renders ports as compact ranges such as "3200-3298,3299".
func Ranges(ports []uint16) string {
	if len(ports) == 0 {
		return ""
	}
	ps := append([]uint16(nil), ports...)
	sort.Slice(ps, func(i, j int) bool { return ps[i] < ps[j] })
	var out string
	start, prev := ps[0], ps[0]
	flush := func() {
		if out != "" {
			out += ","
		}
		if start == prev {
			out += fmt.Sprintf("%d", start)
		} else {
			out += fmt.Sprintf("%d-%d", start, prev)
		}
	}
	for _, p := range ps[1:] {
		if p == prev || p == prev+1 {
			prev = p
			continue
		}
		flush()
		start, prev = p, p
	}
	flush()
	return out
}
