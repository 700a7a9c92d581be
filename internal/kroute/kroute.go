// Package kroute mirrors the kernel's IPv4 route table and drives route
// install and withdraw via RTNETLINK, replacing the direct
// route-socket/ioctl access original_source/kroute.c performs on OpenBSD
// (spec §4.6). MPLS labels are not sent to the kernel: Route.LDPLabel is
// not encoded into the RTNETLINK messages. Route mirroring keeps the LDE's view of directly
// connected and IGP-learned prefixes in sync without LDP depending on any
// particular routing protocol daemon.
package kroute

import (
	"fmt"

	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// Route is a single mirrored kernel route (spec §4.6 "kroute_prefix/node").
type Route struct {
	Prefix    [4]byte
	PrefixLen uint8
	Gateway   [4]byte
	IfIndex   uint32
	Priority  uint8
	Connected bool
	LDPLabel  uint32 // LDP label the caller associates with this route; not sent to the kernel
}

// Kif mirrors a kernel network interface's link state, grounded on the same
// event the teacher's ifmon.go watches for (spec §4.6 "kif").
type Kif struct {
	Index  uint32
	Name   string
	Flags  uint32
	MTU    int
}

func (k Kif) Up() bool { return k.Flags&unix.IFF_UP != 0 }

// Driver issues RTNETLINK requests for IPv4 route programming, using plain
// RTNETLINK messages since route/link mirroring needs the kernel's built-in
// route family rather than a generic-netlink family (SPEC_FULL.md §11
// domain-stack wiring note).
type Driver struct {
	conn *netlink.Conn
}

func Dial() (*Driver, error) {
	conn, err := netlink.Dial(unix.NETLINK_ROUTE, nil)
	if err != nil {
		return nil, fmt.Errorf("kroute: dial rtnetlink: %w", err)
	}
	return &Driver{conn: conn}, nil
}

func (d *Driver) Close() error { return d.conn.Close() }

// AddRoute programs an RTM_NEWROUTE message installing r into the kernel
// routing table (used to install the egress route for a label-switched FEC
// once the LDE has resolved a remote label — spec §4.6 KLABEL_CHANGE).
func (d *Driver) AddRoute(r Route) error {
	return d.sendRoute(unix.RTM_NEWROUTE, unix.NLM_F_CREATE|unix.NLM_F_REPLACE, r)
}

// DelRoute removes a previously installed route.
func (d *Driver) DelRoute(r Route) error {
	return d.sendRoute(unix.RTM_DELROUTE, 0, r)
}

func (d *Driver) sendRoute(msgType uint16, extraFlags uint16, r Route) error {
	ae := netlink.NewAttributeEncoder()
	ae.Bytes(unix.RTA_DST, r.Prefix[:])
	ae.Bytes(unix.RTA_GATEWAY, r.Gateway[:])
	ae.Uint32(unix.RTA_OIF, r.IfIndex)
	ae.Uint32(unix.RTA_PRIORITY, uint32(r.Priority))
	attrs, err := ae.Encode()
	if err != nil {
		return fmt.Errorf("kroute: encode route attributes: %w", err)
	}

	body := append(rtmsgHeader(r.PrefixLen), attrs...)
	msg := netlink.Message{
		Header: netlink.Header{
			Type:  netlink.HeaderType(msgType),
			Flags: netlink.Request | netlink.Acknowledge | netlink.HeaderFlags(extraFlags),
		},
		Data: body,
	}
	_, err = d.conn.Execute(msg)
	if err != nil {
		return fmt.Errorf("kroute: execute route message: %w", err)
	}
	return nil
}

// BindPW installs a pseudowire's kernel forwarding binding toward nexthop
// over ifIndex (spec §4.5 KPWLABEL_CHANGE). It reuses the same RTNETLINK
// route primitive AddRoute does rather than a dedicated MPLS xconnect
// ioctl: this driver mirrors kernel state via plain routes, the same
// simplification AddRoute/DelRoute already make by not encoding LDPLabel
// onto the wire themselves.
func (d *Driver) BindPW(nexthop [4]byte, ifIndex uint32, remoteLabel uint32) error {
	return d.sendRoute(unix.RTM_NEWROUTE, unix.NLM_F_CREATE|unix.NLM_F_REPLACE, Route{
		Gateway: nexthop, IfIndex: ifIndex, LDPLabel: remoteLabel,
	})
}

// UnbindPW removes a binding previously installed by BindPW.
func (d *Driver) UnbindPW(nexthop [4]byte, ifIndex uint32, remoteLabel uint32) error {
	return d.sendRoute(unix.RTM_DELROUTE, 0, Route{
		Gateway: nexthop, IfIndex: ifIndex, LDPLabel: remoteLabel,
	})
}

// rtmsgHeader builds the fixed struct rtmsg header (family, dst_len,
// src_len, tos, table, protocol, scope, type, flags) preceding the
// attribute TLVs in an RTM_NEWROUTE/RTM_DELROUTE message body.
func rtmsgHeader(prefixLen uint8) []byte {
	return []byte{
		unix.AF_INET, // rtm_family
		prefixLen,    // rtm_dst_len
		0,            // rtm_src_len
		0,            // rtm_tos
		unix.RT_TABLE_MAIN,
		unix.RTPROT_STATIC,
		unix.RT_SCOPE_UNIVERSE,
		unix.RTN_UNICAST,
		0, 0, 0, 0, // rtm_flags (uint32, 4 bytes)
	}
}

// ListRoutes dumps the kernel's main IPv4 route table via RTM_GETROUTE, used
// to seed the LDE's egress-FEC table at startup (original_source/kroute.c's
// initial route walk, spec §4.6).
func (d *Driver) ListRoutes() ([]Route, error) {
	msg := netlink.Message{
		Header: netlink.Header{
			Type:  netlink.HeaderType(unix.RTM_GETROUTE),
			Flags: netlink.Request | netlink.Dump,
		},
		Data: append(rtmsgHeader(0)),
	}
	msgs, err := d.conn.Execute(msg)
	if err != nil {
		return nil, fmt.Errorf("kroute: dump routes: %w", err)
	}
	routes := make([]Route, 0, len(msgs))
	for _, m := range msgs {
		if len(m.Data) < 12 {
			continue
		}
		ad, err := netlink.NewAttributeDecoder(m.Data[12:])
		if err != nil {
			continue
		}
		var r Route
		r.PrefixLen = m.Data[1]
		for ad.Next() {
			switch ad.Type() {
			case unix.RTA_DST:
				copy(r.Prefix[:], ad.Bytes())
			case unix.RTA_GATEWAY:
				copy(r.Gateway[:], ad.Bytes())
			case unix.RTA_OIF:
				r.IfIndex = ad.Uint32()
			}
		}
		routes = append(routes, r)
	}
	return routes, nil
}
