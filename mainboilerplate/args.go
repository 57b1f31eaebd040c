package mainboilerplate

import (
	"os"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
)

// Must logs and exits the process if err is non-nil, annotating it with
// message. Reserved for startup-time failures a CLI command can't recover
// from (a malformed flag combination, a command that couldn't be
// registered).
func Must(err error, message string) {
	if err == nil {
		return
	}
	log.WithError(err).Fatal(message)
}

// MustParseArgs parses os.Args against parser, exiting 0 on -h/--help and
// 1 on any parse error (go-flags already prints the error and usage; this
// just maps its sentinel to the right process exit code rather than
// logging it again).
func MustParseArgs(parser *flags.Parser) {
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
