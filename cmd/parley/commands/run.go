package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mosaicnetworks/parley/src/parley"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

//NewRunCmd returns the command that joins a room
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Join a room and stay until interrupted",
		PreRunE: loadConfig,
		RunE:    runParley,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runParley(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := parley.NewParley(&_config.Parley)

	if err := p.Init(); err != nil {
		_config.Parley.Logger().Error("Cannot initialize participant:", err)
		return err
	}

	return p.Run(ctx)
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.Parley.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.Parley.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", _config.Parley.LogFile, "Optional file receiving a copy of the logs")

	// Room
	cmd.Flags().StringP("room", "r", _config.Parley.Room, "Name of the room to join")
	cmd.Flags().String("peer-id", _config.Parley.PeerID, "Id of this participant. Random if empty")
	cmd.Flags().StringP("name", "n", _config.Parley.DisplayName, "Display name announced to the room")

	// Signal
	cmd.Flags().String("signal", _config.Parley.SignalKind, "Signaling backend: wamp or ws")
	cmd.Flags().String("signal-addr", _config.Parley.SignalAddr, "IP:Port of the signaling server")
	cmd.Flags().String("signal-realm", _config.Parley.SignalRealm, "Realm of the WAMP signaling server")
	cmd.Flags().Bool("signal-skip-verify", _config.Parley.SignalSkipVerify, "Accept any certificate from the signaling server")
	cmd.Flags().Duration("signal-timeout", _config.Parley.SignalTimeout, "Timeout of requests to the signaling server")

	// ICE
	cmd.Flags().String("ice-addr", _config.Parley.ICEAddress, "URI of a STUN or TURN server")
	cmd.Flags().String("ice-username", _config.Parley.ICEUsername, "Username for the ICE server")
	cmd.Flags().String("ice-password", _config.Parley.ICEPassword, "Password for the ICE server")

	// Connections
	cmd.Flags().Duration("offer-delay", _config.Parley.OfferDelay, "Delay before an initiator creates its offer")
	cmd.Flags().Bool("remove-on-failure", _config.Parley.RemoveOnFailure, "Remove peers whose connection failed")

	// Media
	cmd.Flags().Bool("audio", _config.Parley.Audio, "Acquire the microphone")
	cmd.Flags().Bool("video", _config.Parley.Video, "Acquire the camera")

	// Service
	cmd.Flags().Bool("no-service", _config.Parley.NoService, "Disable the HTTP service")
	cmd.Flags().StringP("service-listen", "s", _config.Parley.ServiceAddr, "Listen IP:Port for HTTP service")

	// Store
	cmd.Flags().Bool("store", _config.Parley.Store, "Record the session history in badgerDB")
	cmd.Flags().String("db", _config.Parley.DatabaseDir, "Database directory")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.Parley.SetDataDir(_config.Parley.DataDir)

	logFields := logrus.Fields{
		"parley.DataDir":         _config.Parley.DataDir,
		"parley.Room":            _config.Parley.Room,
		"parley.PeerID":          _config.Parley.PeerID,
		"parley.DisplayName":     _config.Parley.DisplayName,
		"parley.SignalKind":      _config.Parley.SignalKind,
		"parley.SignalAddr":      _config.Parley.SignalAddr,
		"parley.SignalRealm":     _config.Parley.SignalRealm,
		"parley.ICEAddress":      _config.Parley.ICEAddress,
		"parley.OfferDelay":      _config.Parley.OfferDelay,
		"parley.RemoveOnFailure": _config.Parley.RemoveOnFailure,
		"parley.Audio":           _config.Parley.Audio,
		"parley.Video":           _config.Parley.Video,
		"parley.ServiceAddr":     _config.Parley.ServiceAddr,
		"parley.Store":           _config.Parley.Store,
		"parley.LogLevel":        _config.Parley.LogLevel,
	}

	if _config.Parley.Store {
		logFields["parley.DatabaseDir"] = _config.Parley.DatabaseDir
	}

	_config.Parley.Logger().WithFields(logFields).Debug("RUN")

	return nil
}
