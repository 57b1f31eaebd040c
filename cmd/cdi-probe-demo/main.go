package main

import (
	"context"
	"encoding/hex"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"go.cdi.dev/core/control"
	"go.cdi.dev/core/endpoint"
	"go.cdi.dev/core/fabric"
	mbp "go.cdi.dev/core/mainboilerplate"
	"go.cdi.dev/core/notify"
	"go.cdi.dev/core/probe"
	"go.cdi.dev/core/protocol"
)

var Config = new(struct {
	Log mbp.LogConfig `group:"Logging" namespace:"log" env-namespace:"LOG"`
})

type cmdRun struct {
	Direction string `long:"direction" choice:"send" choice:"receive" required:"true" description:"Direction this endpoint plays in the connection"`
	LocalAddr string `long:"local-addr" required:"true" description:"Local control-channel address, host:port"`
	PeerAddr  string `long:"peer-addr" required:"true" description:"Peer's control-channel address, host:port"`
	GID       string `long:"gid" required:"true" description:"This endpoint's 16-byte fabric device GID, hex-encoded"`
	Stream    string `long:"stream" default:"cam0" description:"Stream name advertised to the peer"`
	Reserve   int    `long:"reserve-packets" default:"64" description:"Fabric receive-slab sizing, in packets"`
}

func (cmd *cmdRun) Execute([]string) error {
	Config.Log.Configure()

	var dir = probe.SendDirection
	if cmd.Direction == "receive" {
		dir = probe.ReceiveDirection
	}

	var gidBytes, err = hex.DecodeString(cmd.GID)
	if err != nil {
		return err
	}
	var gid protocol.GID
	copy(gid[:], gidBytes)

	var transport control.Transport
	if transport, err = control.NewUDPTransport(cmd.LocalAddr); err != nil {
		return err
	}

	var provider = fabric.NewRealProvider(cmd.Reserve, protocol.MaxFrameSize)

	var localPort uint16
	switch addr := transport.LocalAddr().(type) {
	case *net.UDPAddr:
		localPort = uint16(addr.Port)
	case interface{ Port() int }:
		localPort = uint16(addr.Port())
	}

	var notifier = notify.New(func(state notify.ConnectionState, message string) {
		log.WithFields(log.Fields{"state": state, "message": message}).Info("connection state change")
	})
	var mgr = endpoint.New(notifier, log.NewEntry(log.StandardLogger()))

	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	var sigCh = make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	var group, gctx = errgroup.WithContext(ctx)
	group.Go(func() error { return mgr.Run(gctx) })

	var ep = probe.NewEndpoint(gctx, group, probe.Config{
		Direction:  dir,
		Manager:    mgr,
		Transport:  transport,
		PeerAddr:   cmd.PeerAddr,
		Provider:   provider,
		LocalGID:   gid,
		LocalIP:    cmd.LocalAddr,
		LocalPort:  localPort,
		StreamName: cmd.Stream,
	})
	group.Go(func() error { return ep.Run(gctx) })

	return group.Wait()
}

func main() {
	var parser = flags.NewParser(Config, flags.Default)

	var _, err = parser.AddCommand("run", "Run one direction of a probe connection",
		"Bring up the probe state machine for one endpoint of a connection and log connection state changes", &cmdRun{})
	mbp.Must(err, "failed to add run command")

	mbp.MustParseArgs(parser)
}
