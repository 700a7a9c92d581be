package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ldp-project/ldpd/internal/bus"
	"github.com/ldp-project/ldpd/internal/config"
	"github.com/ldp-project/ldpd/internal/control"
	"github.com/ldp-project/ldpd/internal/eventloop"
	"github.com/ldp-project/ldpd/internal/kroute"
	appversion "github.com/ldp-project/ldpd/internal/version"
)

// routePollInterval bounds how often the kernel route table is re-scanned
// for changes to mirror toward the LDE (spec §4.6: "route mirroring keeps
// the LDE's view of directly connected and IGP-learned prefixes in sync").
const routePollInterval = 10 * time.Second

// RunParent owns the kernel route/label driver and the operator control
// socket, the only privileged surfaces in the process split (spec §2, §4.6,
// §6). It never parses LDP PDUs.
func RunParent(ctx context.Context, cfg *config.Config, conns []*bus.Conn, logger *slog.Logger, configPath string, logLevel *slog.LevelVar) error {
	if len(conns) < 1 {
		return fmt.Errorf("parent: expected 1 bus connection (ldpe), got %d", len(conns))
	}
	ldpeConn := conns[0]

	driver, err := kroute.Dial()
	if err != nil {
		logger.Warn("rtnetlink unavailable, kernel route mirroring disabled", slog.String("error", err.Error()))
		driver = nil
	} else {
		defer driver.Close()
	}

	state := &parentState{cfg: cfg, configPath: configPath, logger: logger, logLevel: logLevel}
	ctrl := control.NewServer(cfg.Control.SocketPath, controlHandler(state), logger)
	go func() {
		if err := ctrl.ListenAndServe(ctx); err != nil && ctx.Err() == nil {
			logger.Error("control socket server stopped", slog.String("error", err.Error()))
		}
	}()

	loop := eventloop.New()
	frames := make(chan any, 64)
	go pumpBus(ctx, ldpeConn, frames)
	loop.AddSource(eventloop.Source{
		Name: "ldpe",
		C:    frames,
		Handler: func(ctx context.Context, ev any) {
			handleParentBusFrame(driver, ldpeConn, logger, ev)
		},
	})

	if driver != nil {
		known := make(map[[5]byte]kroute.Route)
		var poll func()
		poll = func() {
			pollRoutes(driver, ldpeConn, known, logger)
			loop.AfterFunc(routePollInterval, poll)
		}
		poll()
	}

	loop.Run(ctx)
	return ctx.Err()
}

func handleParentBusFrame(driver *kroute.Driver, ldpeConn *bus.Conn, logger *slog.Logger, ev any) {
	fe, ok := ev.(frameEvent)
	if !ok || fe.err != nil || driver == nil {
		return
	}
	switch fe.frame.Type {
	case bus.TypeKLabelChange:
		handleKLabelChange(driver, logger, fe.frame.Payload)
	case bus.TypePWLabelChange:
		handlePWLabelChange(driver, logger, fe.frame.Payload)
	}
}

func handleKLabelChange(driver *kroute.Driver, logger *slog.Logger, payload []byte) {
	p, ok := bus.DecodeKLabelChange(payload)
	if !ok {
		return
	}
	route := kroute.Route{
		Prefix: p.Prefix, PrefixLen: p.PrefixLen, Gateway: p.Gateway,
		IfIndex: p.IfIndex, LDPLabel: p.OutLabel,
	}
	var err error
	if p.Add {
		err = driver.AddRoute(route)
	} else {
		err = driver.DelRoute(route)
	}
	if err != nil {
		logger.Warn("kernel label route update failed",
			slog.String("prefix", fmt.Sprintf("%d.%d.%d.%d/%d", route.Prefix[0], route.Prefix[1], route.Prefix[2], route.Prefix[3], route.PrefixLen)),
			slog.String("error", err.Error()))
	}
}

// handlePWLabelChange installs or removes a pseudowire's kernel forwarding
// binding (spec §4.5 KPWLABEL_CHANGE), the Parent-side consumer of the
// frame PWManager.OnInstall produces.
func handlePWLabelChange(driver *kroute.Driver, logger *slog.Logger, payload []byte) {
	p, ok := bus.DecodePWLabelChange(payload)
	if !ok {
		return
	}
	var err error
	if p.Add {
		err = driver.BindPW(p.Nexthop, p.IfIndex, p.RemoteLabel)
	} else {
		err = driver.UnbindPW(p.Nexthop, p.IfIndex, p.RemoteLabel)
	}
	if err != nil {
		logger.Warn("kernel pseudowire binding update failed",
			slog.String("nexthop", fmt.Sprintf("%d.%d.%d.%d", p.Nexthop[0], p.Nexthop[1], p.Nexthop[2], p.Nexthop[3])),
			slog.String("error", err.Error()))
	}
}

// pollRoutes dumps the kernel route table and pushes KRouteChange frames for
// anything added or removed since the last poll (original_source/kroute.c's
// route-socket watch, adapted to periodic RTM_GETROUTE dumps since
// RTNETLINK's notification group subscription needs a second socket this
// driver does not open — SPEC_FULL.md §11).
func pollRoutes(driver *kroute.Driver, ldpeConn *bus.Conn, known map[[5]byte]kroute.Route, logger *slog.Logger) {
	routes, err := driver.ListRoutes()
	if err != nil {
		logger.Warn("list routes failed", slog.String("error", err.Error()))
		return
	}
	seen := make(map[[5]byte]struct{}, len(routes))
	for _, r := range routes {
		k := routeKey(r)
		seen[k] = struct{}{}
		if _, ok := known[k]; !ok {
			known[k] = r
			_ = ldpeConn.Send(bus.TypeKRouteChange, bus.EncodeKRouteChange(bus.KRouteChangePayload{
				Add: true, Prefix: r.Prefix, PrefixLen: r.PrefixLen, Gateway: r.Gateway, IfIndex: r.IfIndex,
			}))
		}
	}
	for k, r := range known {
		if _, ok := seen[k]; !ok {
			delete(known, k)
			_ = ldpeConn.Send(bus.TypeKRouteChange, bus.EncodeKRouteChange(bus.KRouteChangePayload{
				Add: false, Prefix: r.Prefix, PrefixLen: r.PrefixLen, Gateway: r.Gateway, IfIndex: r.IfIndex,
			}))
		}
	}
}

func routeKey(r kroute.Route) [5]byte {
	var k [5]byte
	copy(k[:4], r.Prefix[:])
	k[4] = r.PrefixLen
	return k
}

// parentState holds the Parent process's mutable control-socket-reachable
// state. Commands that need live neighbor/LIB/PW state are out of reach of
// this process by design (spec §2's privilege split keeps that state in
// LDPE/LDE) and are answered with a fixed "not available here" error rather
// than silently returning nothing.
type parentState struct {
	cfg        *config.Config
	configPath string
	logger     *slog.Logger
	logLevel   *slog.LevelVar
}

var errNoProtocolState = fmt.Errorf("this command needs LDPE/LDE state, not yet bridged through the control socket")

// controlHandler answers the operator control-socket commands the Parent
// process can serve on its own (spec §6): version reporting, config
// rendering/reload, and log-verbosity. Commands needing neighbor/LIB/PW
// state, fib-couple/fib-decouple included, return errNoProtocolState after
// validating their arguments.
func controlHandler(st *parentState) control.Handler {
	return func(ctx context.Context, req control.Request) control.Response {
		switch req.Command {
		case "version":
			data, _ := json.Marshal(map[string]string{"version": appversion.Full("ldpd")})
			return control.Response{OK: true, Data: data}

		case "show-running-config":
			data, _ := json.Marshal(map[string]string{"config": config.Render(st.cfg)})
			return control.Response{OK: true, Data: data}

		case "reload":
			if st.configPath == "" {
				return control.Response{OK: false, Error: "no configuration file path recorded for this process"}
			}
			newCfg, err := config.Load(st.configPath)
			if err != nil {
				return control.Response{OK: false, Error: fmt.Sprintf("reload: %s", err)}
			}
			*st.cfg = *newCfg
			st.logger.Info("configuration reloaded", slog.String("path", st.configPath))
			return control.Response{OK: true}

		case "fib-couple", "fib-decouple":
			var args struct {
				PW string `json:"pw"`
			}
			if err := json.Unmarshal(req.Args, &args); err != nil || args.PW == "" {
				return control.Response{OK: false, Error: "missing pw argument"}
			}
			st.logger.Info("fib coupling change requested",
				slog.String("pw", args.PW), slog.Bool("couple", req.Command == "fib-couple"))
			return control.Response{OK: false, Error: errNoProtocolState.Error()}

		case "log-verbosity":
			var args struct {
				Level string `json:"level"`
			}
			if err := json.Unmarshal(req.Args, &args); err != nil || args.Level == "" {
				return control.Response{OK: false, Error: "missing level argument"}
			}
			st.cfg.Log.Level = args.Level
			if st.logLevel != nil {
				st.logLevel.Set(config.ParseLogLevel(args.Level))
			}
			st.logger.Info("log level changed", slog.String("level", args.Level))
			return control.Response{OK: true}

		case "show-interfaces", "show-discovery", "show-neighbors", "show-lib", "show-l2vpn":
			return control.Response{OK: false, Error: errNoProtocolState.Error()}

		default:
			return control.Response{OK: false, Error: fmt.Sprintf("unknown command %q", req.Command)}
		}
	}
}
