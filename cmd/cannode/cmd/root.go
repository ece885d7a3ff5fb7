package cmd

import (
	"context"
	"flag"

	"github.com/golang/glog"
	"github.com/roffe/cannode"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cannode",
	Short: "CAN reply node",
	Long: `cannode answers every CAN frame it receives with a frame on an
incrementing standard identifier and mirrors its status on a small panel.

Connection modes:
  Serial:    --adapter slcan --port /dev/ttyACM0 [--baudrate 115200]
  WebSocket: --adapter slcan --url ws://host/slcan [--username user]
  SocketCAN: --adapter "socketcan can0"

For WebSocket authentication the password is read from the CANNODE_PASSWORD
environment variable, or prompted for when it is not set.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// glog wants to see a parsed flag set
		return flag.CommandLine.Parse(nil)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

const (
	flagAdapter     = "adapter"
	flagPort        = "port"
	flagBaudrate    = "baudrate"
	flagURL         = "url"
	flagUsername    = "username"
	flagNoSSLVerify = "no-ssl-verify"
	flagOpt         = "opt"
	flagDebug       = "debug"
)

func init() {
	if err := flag.Set("logtostderr", "true"); err != nil {
		glog.Warning(err)
	}
	pf := rootCmd.PersistentFlags()
	pf.AddGoFlagSet(flag.CommandLine)

	pf.StringP(flagAdapter, "a", "SLCan", "what adapter to use")
	pf.StringP(flagPort, "p", "", "com-port")
	pf.IntP(flagBaudrate, "b", 115200, "baudrate (serial only)")
	pf.StringP(flagURL, "u", "", "websocket url of a SLCAN bridge (ws:// or wss://)")
	pf.String(flagUsername, "", "username for HTTP Basic auth")
	pf.Bool(flagNoSSLVerify, false, "skip TLS certificate verification (wss:// only)")
	pf.StringToString(flagOpt, nil, "adapter specific options, key=value")
	pf.BoolP(flagDebug, "d", false, "debug mode")
}

func adapterConfig(cmd *cobra.Command) (*cannode.AdapterConfig, error) {
	f := cmd.Flags()
	port, err := f.GetString(flagPort)
	if err != nil {
		return nil, err
	}
	baudrate, err := f.GetInt(flagBaudrate)
	if err != nil {
		return nil, err
	}
	url, err := f.GetString(flagURL)
	if err != nil {
		return nil, err
	}
	username, err := f.GetString(flagUsername)
	if err != nil {
		return nil, err
	}
	noVerify, err := f.GetBool(flagNoSSLVerify)
	if err != nil {
		return nil, err
	}
	opts, err := f.GetStringToString(flagOpt)
	if err != nil {
		return nil, err
	}
	debug, err := f.GetBool(flagDebug)
	if err != nil {
		return nil, err
	}

	cfg := &cannode.AdapterConfig{
		Debug:            debug,
		Port:             port,
		PortBaudrate:     baudrate,
		URL:              url,
		Username:         username,
		SkipTLSVerify:    noVerify,
		AdditionalConfig: opts,
		OnMessage: func(msg string) {
			glog.Info(msg)
		},
	}
	if url != "" && username != "" {
		if cfg.Password, err = getPassword(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
