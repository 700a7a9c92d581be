package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ldp-project/ldpd/internal/bus"
	"github.com/ldp-project/ldpd/internal/config"
	"github.com/ldp-project/ldpd/internal/eventloop"
	"github.com/ldp-project/ldpd/internal/ldp"
)

// RunLDE drives the Label Decision Engine against its own LIB and
// PWManager, fed entirely by frames from the LDPE process (spec §4.4,
// §4.5). It never touches the network or the kernel directly.
func RunLDE(ctx context.Context, cfg *config.Config, conns []*bus.Conn, logger *slog.Logger) error {
	if len(conns) < 1 {
		return fmt.Errorf("lde: expected 1 bus connection (ldpe), got %d", len(conns))
	}
	ldpeConn := conns[0]

	lib := ldp.NewLIB()
	lde := ldp.NewLDE(lib, logger)
	lde.SetSenders(
		func(peerID uint32, fec ldp.FECKey, label uint32, reqID uint32) {
			_ = ldpeConn.Send(bus.TypeLabelMapping, encodeLabelFrame(peerID, label, reqID, fec, false))
		},
		func(peerID uint32, fec ldp.FECKey, label uint32) {
			_ = ldpeConn.Send(bus.TypeLabelWithdraw, encodeLabelFrame(peerID, label, 0, fec, false))
		},
		func(peerID uint32, fec ldp.FECKey, label uint32, wildcard bool) {
			_ = ldpeConn.Send(bus.TypeLabelRelease, encodeLabelFrame(peerID, label, 0, fec, wildcard))
		},
		func(peerID uint32, fec ldp.FECKey) {
			_ = ldpeConn.Send(bus.TypeLabelRequest, encodeLabelFrame(peerID, ldp.NoLabel, 0, fec, false))
		},
		func(fec ldp.FECKey, add bool, inLabel, outLabel uint32, gateway [4]byte, ifIndex uint32) {
			_ = ldpeConn.Send(bus.TypeKLabelChange, bus.EncodeKLabelChange(bus.KLabelChangePayload{
				Add: add, Prefix: fec.Prefix, PrefixLen: fec.PrefixLen,
				InLabel: inLabel, OutLabel: outLabel, Gateway: gateway, IfIndex: ifIndex,
			}))
		},
		func(peerID uint32, fec ldp.FECKey, status ldp.StatusCode) {
			var fecBytes []byte
			if fec.IsPW {
				fecBytes = ldp.EncodeFECPWid(fec.PWType, fec.PWID, false, 0, 0)
			} else {
				fecBytes = ldp.EncodeFECPrefix(fec.Prefix, fec.PrefixLen)
			}
			_ = ldpeConn.Send(bus.TypeLabelNotification, bus.EncodeLabelNotification(bus.LabelNotificationPayload{
				PeerID: peerID, Status: uint32(status), FEC: fecBytes,
			}))
		},
	)
	pwmgr := ldp.NewPWManager(lde, logger)
	pwmgr.OnStatusChange(func(pw *ldp.PW) {
		logger.Info("pseudowire status change", slog.String("pw", pw.Key.String()), slog.Bool("up", pw.Up()))
	})
	pwmgr.OnInstall(func(pw *ldp.PW, add bool) {
		_ = ldpeConn.Send(bus.TypePWLabelChange, bus.EncodePWLabelChange(bus.PWLabelChangePayload{
			Add: add, PWType: pw.Key.PWType, Nexthop: uint32ToAddr4(pw.PeerID),
			LocalLabel: pw.LocalLabel, RemoteLabel: pw.RemoteLabel,
		}))
	})

	loop := eventloop.New()
	frames := make(chan any, 64)
	go pumpBus(ctx, ldpeConn, frames)
	loop.AddSource(eventloop.Source{
		Name: "ldpe",
		C:    frames,
		Handler: func(ctx context.Context, ev any) {
			handleLDEBusFrame(lde, pwmgr, logger, ev)
		},
	})

	loop.Run(ctx)
	return ctx.Err()
}

func handleLDEBusFrame(lde *ldp.LDE, pwmgr *ldp.PWManager, logger *slog.Logger, ev any) {
	fe, ok := ev.(frameEvent)
	if !ok {
		return
	}
	if fe.err != nil {
		logger.Warn("ldpe connection lost", slog.String("error", fe.err.Error()))
		return
	}

	switch fe.frame.Type {
	case bus.TypeNeighborEvent:
		p, ok := bus.DecodeNeighborEvent(fe.frame.Payload)
		if !ok {
			return
		}
		if p.Up {
			lde.NeighborUp(p.PeerID)
		} else {
			lde.NeighborDown(p.PeerID)
		}

	case bus.TypeLabelMapping:
		p, el, ok := decodeLabelFrame(fe.frame.Payload)
		if !ok {
			return
		}
		if el.Key.IsPW {
			if err := pwmgr.RecvPWMapping(p.PeerID, el); err != nil {
				logger.Warn("pseudowire mapping rejected", slog.String("error", err.Error()))
				return
			}
			pwmgr.SetRemoteLabel(el.Key, p.Label)
			return
		}
		lde.RecvLabelMapping(p.PeerID, el.Key, p.Label)

	case bus.TypeLabelWithdraw:
		p, el, ok := decodeLabelFrame(fe.frame.Payload)
		if !ok {
			return
		}
		if el.Key.IsPW {
			return
		}
		lde.RecvLabelWithdraw(p.PeerID, el, p.Label)

	case bus.TypeLabelRequest:
		p, el, ok := decodeLabelFrame(fe.frame.Payload)
		if !ok {
			return
		}
		lde.RecvLabelRequest(p.PeerID, el.Key, p.Label)

	case bus.TypeLabelRelease:
		p, el, ok := decodeLabelFrame(fe.frame.Payload)
		if !ok {
			return
		}
		if el.Key.IsPW {
			return
		}
		lde.RecvLabelRelease(p.PeerID, el, p.Label)

	case bus.TypeKRouteChange:
		p, ok := bus.DecodeKRouteChange(fe.frame.Payload)
		if !ok {
			return
		}
		key := ldp.FECKey{Prefix: p.Prefix, PrefixLen: p.PrefixLen}
		if p.Add {
			lde.NetworkAdd(key, ldp.FECNH{Gateway: p.Gateway, Connected: p.Gateway == [4]byte{}}, false)
		} else {
			lde.NetworkDel(key, p.Gateway)
		}
	}
}

// encodeLabelFrame packs a FECKey and label into the bus's generic label
// message payload, reusing the same FEC TLV-value encoding used on the
// wire so LDPE can forward it verbatim inside a Label Mapping/Withdraw/
// Request/Release message (spec §4.4, §6). wildcard selects the all-FECs
// wildcard element instead of fec, used by LRl/LWd wildcard replies.
func encodeLabelFrame(peerID, label, reqID uint32, fec ldp.FECKey, wildcard bool) []byte {
	var fecBytes []byte
	switch {
	case wildcard:
		fecBytes = ldp.EncodeFECWildcard()
	case fec.IsPW:
		fecBytes = ldp.EncodeFECPWid(fec.PWType, fec.PWID, false, 0, 0)
	default:
		fecBytes = ldp.EncodeFECPrefix(fec.Prefix, fec.PrefixLen)
	}
	return bus.EncodeLabelMessage(bus.LabelMessagePayload{PeerID: peerID, Label: label, ReqID: reqID, FEC: fecBytes})
}

func decodeLabelFrame(buf []byte) (bus.LabelMessagePayload, ldp.FECElement, bool) {
	p, ok := bus.DecodeLabelMessage(buf)
	if !ok {
		return bus.LabelMessagePayload{}, ldp.FECElement{}, false
	}
	el, err := ldp.DecodeFEC(p.FEC)
	if err != nil {
		return bus.LabelMessagePayload{}, ldp.FECElement{}, false
	}
	return p, el, true
}
