package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/mikaelmello/ringo/core"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// errUsage marks errors caused by the command line rather than the network.
var errUsage = errors.New("invalid usage")

// options are the command line flags of the root command
type options struct {
	count       int
	size        int
	timeoutMs   int
	ttl         int
	continuous  bool
	ipv4        bool
	ipv6        bool
	interval    float64
	deadline    int
	flood       bool
	config      string
	metricsAddr string
	verbose     bool
	logLevel    string
}

// newRootCmd builds the root command. The exit code of the run is stored in code.
func newRootCmd(code *int, stdout io.Writer) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "ringo [flags] <target>",
		Short: "ringo sends ICMP echo requests to a host",
		Long: "ringo is a Go implementation of the ping utility. It sends ICMP or ICMPv6 echo requests\n" +
			"through a raw socket and reports round trip times and packet loss.",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := opts.settings(cmd.Flags())
			if err != nil {
				*code = exitFatal
				return err
			}

			snap, err := run(cmd.Context(), args[0], settings, opts, stdout)
			*code = exitCode(snap, err)
			return err
		},
	}

	opts.bind(cmd.Flags())
	cmd.SetFlagErrorFunc(flagError)

	return cmd
}

// flagError points users of the single dash -ttl spelling to --ttl, which
// pflag would otherwise read as the -t shorthand.
func flagError(_ *cobra.Command, err error) error {
	if strings.Contains(err.Error(), "in -ttl") {
		return fmt.Errorf("%w: %s, use --ttl to set the time to live", errUsage, err)
	}
	return fmt.Errorf("%w: %s", errUsage, err)
}

// bind registers the flags of o on flags
func (o *options) bind(flags *pflag.FlagSet) {
	flags.SortFlags = false
	flags.IntVarP(&o.count, "count", "c", 4, "stop after sending count echo requests")
	flags.IntVarP(&o.size, "size", "s", 56, "number of payload bytes to send")
	flags.IntVarP(&o.timeoutMs, "timeout", "w", 1000, "time in milliseconds to wait for each reply")
	flags.IntVar(&o.ttl, "ttl", 128, "IP time to live or IPv6 hop limit")
	flags.BoolVarP(&o.continuous, "continuous", "t", false, "send echo requests until interrupted")
	flags.BoolVarP(&o.ipv4, "ipv4", "4", false, "use IPv4 only")
	flags.BoolVarP(&o.ipv6, "ipv6", "6", false, "use IPv6 only")
	flags.Float64VarP(&o.interval, "interval", "i", 1, "seconds to wait between echo requests")
	flags.IntVarP(&o.deadline, "deadline", "d", 0, "seconds before exiting regardless of how many replies were received")
	flags.BoolVarP(&o.flood, "flood", "f", false, "flood ping: no interval, print a dot per request")
	flags.StringVar(&o.config, "config", "", "YAML settings file, flags override its values")
	flags.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flags.BoolVarP(&o.verbose, "verbose", "v", false, "verbose output, same as --log-level=debug")
	flags.StringVar(&o.logLevel, "log-level", "", "log level (panic, fatal, error, warn, info, debug, trace)")
}

// settings merges the settings file, if any, with the flags that were set.
func (o *options) settings(flags *pflag.FlagSet) (*core.Settings, error) {
	settings := core.DefaultSettings()
	if o.config != "" {
		var err error
		if settings, err = core.LoadSettings(o.config); err != nil {
			return nil, err
		}
	}

	if flags.Changed("count") {
		settings.Count = o.count
	}
	if flags.Changed("size") {
		settings.Size = o.size
	}
	if flags.Changed("timeout") {
		settings.Timeout = time.Duration(o.timeoutMs) * time.Millisecond
	}
	if flags.Changed("ttl") {
		settings.TTL = o.ttl
	}
	if flags.Changed("continuous") {
		settings.Continuous = o.continuous
	}
	if flags.Changed("interval") {
		settings.Interval = time.Duration(o.interval * float64(time.Second))
	}
	if flags.Changed("deadline") {
		settings.Deadline = time.Duration(o.deadline) * time.Second
	}
	if o.flood {
		settings.Interval = 0
	}

	switch {
	case o.ipv4 && o.ipv6:
		return nil, fmt.Errorf("%w: -4 and -6 are mutually exclusive", errUsage)
	case o.ipv4:
		settings.Family = core.FamilyIPv4
	case o.ipv6:
		settings.Family = core.FamilyIPv6
	}

	if o.verbose {
		settings.LoggingLevel = log.DebugLevel
	}
	if o.logLevel != "" {
		level, err := log.ParseLevel(o.logLevel)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", errUsage, err)
		}
		settings.LoggingLevel = level
	}

	return settings, nil
}

// run resolves host and pings it until the session ends.
func run(ctx context.Context, host string, settings *core.Settings, opts *options, stdout io.Writer) (core.Snapshot, error) {
	addr, err := resolve(ctx, net.DefaultResolver, host, settings.Family)
	if err != nil {
		return core.Snapshot{}, err
	}

	r, err := newRunner(host, addr, settings, stdout, opts.flood)
	if err != nil {
		return core.Snapshot{}, err
	}

	if opts.metricsAddr != "" {
		stop, err := serveMetrics(opts.metricsAddr, r.session, r.logger)
		if err != nil {
			return core.Snapshot{}, err
		}
		defer stop()
	}

	r.Start(ctx)
	return r.Wait()
}

// Execute runs the root command and returns the process exit code
func Execute() int {
	code := exitOK
	cmd := newRootCmd(&code, os.Stdout)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "ringo: %s\n", err)
		if code == exitOK {
			code = exitFatal
		}
	}
	return code
}
