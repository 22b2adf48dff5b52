// Package router implements the SAP Router protocol carried in NI frames:
// route requests, error replies, pongs and administrative commands.
package router

import (
	"firestige.xyz/sapcraft/pkg/packet"
	"firestige.xyz/sapcraft/pkg/sap/ni"
)

// Message types, sent as NUL-terminated strings.
const (
	TypePing  = "NI_PING"
	TypePong  = "NI_PONG"
	TypeError = "NI_RTERR"
	TypeRoute = "NI_ROUTE"
	TypeAdmin = "ROUTER_ADM"
)

// NIVersion is the NI protocol version announced in route requests.
const NIVersion = 2

// Talk modes of a route request.
const (
	TalkModeMsgIO  = 0
	TalkModeRawIO  = 1
	TalkModeRoutIO = 2
)

// Admin commands.
const (
	AdminInfo           = 2
	AdminNewRouteTable  = 3
	AdminToggleTrace    = 4
	AdminStop           = 5
	AdminCancelRoute    = 6
	AdminDumpBuffers    = 7
	AdminFlushBuffers   = 8
	AdminSoftShutdown   = 9
	AdminSetTracePeer   = 10
	AdminClearTracePeer = 11
	AdminTraceOn        = 12
	AdminTraceOff       = 13
)

// Return codes carried in error replies.
const (
	ErrCodeIntern           = -1
	ErrCodeHostUnknown      = -2
	ErrCodeServUnknown      = -3
	ErrCodeTimeout          = -5
	ErrCodeConnBroken       = -6
	ErrCodeConnRefused      = -10
	ErrCodeVersion          = -13
	ErrCodeRouteHostUnknown = -90
	ErrCodeRoutePermDenied  = -94
)

// Hop is one entry of a route string.
var Hop = packet.MustDefine("SAPRouterRouteHop", []packet.Field{
	{Name: "hostname", Type: packet.CString},
	{Name: "port", Type: packet.CString},
	{Name: "password", Type: packet.CString},
})

// ClientID is one entry of the client list of cancel and trace commands.
var ClientID = packet.MustDefine("SAPRouterClientID", []packet.Field{
	{Name: "id", Type: packet.U32},
})

func isType(types ...string) packet.Predicate {
	return packet.When(func(v *packet.Values) bool {
		t := v.Str("type")
		for _, want := range types {
			if t == want {
				return true
			}
		}
		return false
	}, "type")
}

func adminIn(cmds ...uint64) packet.Predicate {
	return packet.When(func(v *packet.Values) bool {
		if v.Str("type") != TypeAdmin {
			return false
		}
		c := v.Uint("adm_command")
		for _, want := range cmds {
			if c == want {
				return true
			}
		}
		return false
	}, "type", "adm_command")
}

func adminNotIn(cmds ...uint64) packet.Predicate {
	return packet.When(func(v *packet.Values) bool {
		if v.Str("type") != TypeAdmin {
			return false
		}
		c := v.Uint("adm_command")
		for _, want := range cmds {
			if c == want {
				return false
			}
		}
		return true
	}, "type", "adm_command")
}

// SAPRouter is a router control message. Fields that do not apply to the
// message type are not on the wire.
var SAPRouter = packet.MustDefine("SAPRouter", []packet.Field{
	{Name: "type", Type: packet.CString, Default: TypePing},

	{Name: "version", Type: packet.U8, Default: NIVersion, Present: isType(TypeAdmin, TypeError)},

	// admin
	{Name: "adm_command", Type: packet.U8, Default: AdminInfo, Present: isType(TypeAdmin)},
	{Name: "adm_unused", Type: packet.U16, Present: adminNotIn(AdminSetTracePeer, AdminClearTracePeer, AdminTraceOn, AdminTraceOff)},
	{Name: "adm_address_mask", Type: packet.PaddedString(0), Length: packet.Fixed(32), Present: adminIn(AdminSetTracePeer, AdminClearTracePeer)},
	{Name: "adm_client_count", Type: packet.U16, Derive: packet.Count("adm_client_ids"), Present: adminIn(AdminCancelRoute, AdminTraceOn, AdminTraceOff)},
	{Name: "adm_client_ids", Type: packet.LayerList(ClientID),
		Length:  packet.LengthFunc(func(v *packet.Values) int { return int(v.Uint("adm_client_count")) * 4 }, "adm_client_count"),
		Present: adminIn(AdminCancelRoute, AdminTraceOn, AdminTraceOff)},

	// error
	{Name: "opcode", Type: packet.U8, Present: isType(TypeError)},
	{Name: "opcode_padd", Type: packet.U8, Present: isType(TypeError)},
	{Name: "return_code", Type: packet.I32, Present: isType(TypeError)},
	{Name: "err_text_length", Type: packet.U32, Derive: packet.FieldsLength(0, "err_text"), Present: isType(TypeError)},
	{Name: "err_text", Type: packet.String, Length: packet.FromField("err_text_length", 0), Present: isType(TypeError)},
	{Name: "err_text_unknown", Type: packet.U32, Present: isType(TypeError)},

	// route request
	{Name: "route_ni_version", Type: packet.U8, Default: NIVersion, Present: isType(TypeRoute)},
	{Name: "route_entries", Type: packet.U8, Derive: packet.Count("route_string"), Present: isType(TypeRoute)},
	{Name: "route_talk_mode", Type: packet.U8, Present: isType(TypeRoute)},
	{Name: "route_padd", Type: packet.U16, Present: isType(TypeRoute)},
	{Name: "route_rest_nodes", Type: packet.U8, Derive: packet.DeriveFunc(restNodes), Present: isType(TypeRoute)},
	{Name: "route_length", Type: packet.U32, Derive: packet.FieldsLength(0, "route_string"), Present: isType(TypeRoute)},
	{Name: "route_offset", Type: packet.U32, Derive: packet.DeriveFunc(firstHopSize), Present: isType(TypeRoute)},
	{Name: "route_string", Type: packet.LayerList(Hop), Length: packet.FromField("route_length", 0), Present: isType(TypeRoute)},
}, packet.WithLayerType(3301))

// LayerTypeSAPRouter is the gopacket layer type of SAPRouter.
var LayerTypeSAPRouter = SAPRouter.LayerType()

// SAPNIRouter is an NI frame carrying a router message.
var SAPNIRouter = ni.Over(SAPRouter)

func init() {
	packet.MustRegister(Hop, ClientID, SAPRouter)
}

// restNodes is the number of hops after the first one.
func restNodes(c *packet.BuildContext) (any, error) {
	n := len(c.Layer().List("route_string"))
	if n == 0 {
		return uint64(0), nil
	}
	return uint64(n - 1), nil
}

// firstHopSize is where the second hop starts in the route string.
func firstHopSize(c *packet.BuildContext) (any, error) {
	hops := c.Layer().List("route_string")
	if len(hops) == 0 {
		return uint64(0), nil
	}
	b, err := packet.Build(hops[0])
	if err != nil {
		return nil, err
	}
	return uint64(len(b)), nil
}

// NewRouteRequest returns an NI_ROUTE message through hops.
func NewRouteRequest(hops []*packet.Layer, talkMode uint8) *packet.Layer {
	return packet.New(SAPRouter).
		With("type", TypeRoute).
		With("route_talk_mode", talkMode).
		With("route_string", hops)
}

// NewError returns an NI_RTERR reply.
func NewError(returnCode int32, text string) *packet.Layer {
	return packet.New(SAPRouter).
		With("type", TypeError).
		With("return_code", returnCode).
		With("err_text", text)
}

// NewAdmin returns a ROUTER_ADM command.
func NewAdmin(command uint8) *packet.Layer {
	return packet.New(SAPRouter).
		With("type", TypeAdmin).
		With("adm_command", command)
}

// NewPong returns a router NI_PONG reply.
func NewPong() *packet.Layer {
	return packet.New(SAPRouter).With("type", TypePong)
}

// ClientIDs builds the client list of cancel and trace commands.
func ClientIDs(ids ...uint32) []*packet.Layer {
	out := make([]*packet.Layer, len(ids))
	for i, id := range ids {
		out[i] = packet.New(ClientID).With("id", id)
	}
	return out
}
