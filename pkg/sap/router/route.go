package router

import (
	"errors"
	"fmt"
	"strings"

	"firestige.xyz/sapcraft/pkg/packet"
)

// ErrBadRoute is returned for malformed route strings.
var ErrBadRoute = errors.New("router: bad route string")

// ParseRoute parses a route string such as
// "/H/saprouter/S/3299/W/secret/H/target/S/3200" into hops. Each /H/ starts
// a hop; /S/ sets its port and /W/ or /P/ its password.
func ParseRoute(route string) ([]*packet.Layer, error) {
	route = strings.TrimSpace(route)
	if route == "" {
		return nil, fmt.Errorf("%w: empty", ErrBadRoute)
	}
	parts := strings.Split(strings.TrimPrefix(route, "/"), "/")
	if len(parts)%2 != 0 {
		return nil, fmt.Errorf("%w: %q has an odd number of items", ErrBadRoute, route)
	}

	var hops []*packet.Layer
	var cur *packet.Layer
	for i := 0; i < len(parts); i += 2 {
		key, val := strings.ToUpper(parts[i]), parts[i+1]
		if key == "H" {
			if val == "" {
				return nil, fmt.Errorf("%w: empty host in %q", ErrBadRoute, route)
			}
			cur = packet.New(Hop).With("hostname", val)
			hops = append(hops, cur)
			continue
		}
		if cur == nil {
			return nil, fmt.Errorf("%w: /%s/ before the first /H/", ErrBadRoute, parts[i])
		}
		switch key {
		case "S":
			cur.With("port", val)
		case "W", "P":
			cur.With("password", val)
		default:
			return nil, fmt.Errorf("%w: unknown item /%s/", ErrBadRoute, parts[i])
		}
	}
	return hops, nil
}

// RouteString formats hops back into a route string. Passwords are kept.
func RouteString(hops []*packet.Layer) string {
	var b strings.Builder
	for _, h := range hops {
		b.WriteString("/H/")
		b.WriteString(h.Str("hostname"))
		if p := h.Str("port"); p != "" {
			b.WriteString("/S/")
			b.WriteString(p)
		}
		if pw := h.Str("password"); pw != "" {
			b.WriteString("/W/")
			b.WriteString(pw)
		}
	}
	return b.String()
}
