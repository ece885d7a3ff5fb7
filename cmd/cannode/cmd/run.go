package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/avast/retry-go"
	"github.com/fatih/color"
	"github.com/golang/glog"
	"github.com/roffe/cannode"
	"github.com/roffe/cannode/panel"
	"github.com/roffe/cannode/pkg/capture"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const (
	flagCANRate         = "canrate"
	flagMode            = "mode"
	flagClock           = "clock"
	flagClkOut          = "clkout"
	flagPanel           = "panel"
	flagI2CBus          = "i2c-bus"
	flagMQTT            = "mqtt"
	flagPanelWidth      = "panel-width"
	flagPanelHeight     = "panel-height"
	flagStartID         = "start-id"
	flagPoll            = "poll"
	flagBackoff         = "backoff"
	flagHaltOnSendError = "halt-on-send-error"
	flagWrapIDs         = "wrap-ids"
	flagRecord          = "record"
	flagDisplayRetries  = "display-retries"
	flagHeartbeat       = "heartbeat"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the reply loop",
	Args:  cobra.NoArgs,
	RunE:  runNode,
}

func init() {
	addRunFlags(runCmd.Flags())
	rootCmd.AddCommand(runCmd)
}

func addRunFlags(f *pflag.FlagSet) {
	f.Float64(flagCANRate, 100, "CAN rate in kbit/s")
	f.String(flagMode, cannode.ModeNormal.String(), "transceiver mode: normal, listen-only or loopback")
	f.Int(flagClock, int(cannode.Clock8MHz), "transceiver oscillator in MHz (8, 16, 20)")
	f.Bool(flagClkOut, false, "enable the transceiver clock output")
	f.String(flagPanel, "terminal", "status panel: ssd1306, terminal, mqtt or none")
	f.String(flagI2CBus, "", "I2C bus of the ssd1306 panel, empty for the first one")
	f.String(flagMQTT, "", "broker url of the mqtt panel, mqtt://host:1883/prefix")
	f.Int(flagPanelWidth, 0, "panel width in pixels, 0 for the panel default")
	f.Int(flagPanelHeight, 0, "panel height in pixels, 0 for the panel default")
	f.Uint16(flagStartID, cannode.DefaultInitialCounter, "first reply identifier")
	f.Duration(flagPoll, cannode.DefaultPollInterval, "idle poll interval")
	f.Duration(flagBackoff, cannode.DefaultBackoffInterval, "wait after a bus failure")
	f.Bool(flagHaltOnSendError, false, "stop on the first failed send")
	f.Bool(flagWrapIDs, false, "restart reply identifiers at 0 instead of stopping after 0x7FF")
	f.String(flagRecord, "", "record every frame read and sent to this file")
	f.Uint(flagDisplayRetries, 3, "panel bring-up attempts")
	f.Duration(flagHeartbeat, time.Minute, "log a traffic summary this often, 0 disables")
}

func runNode(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	f := cmd.Flags()

	loopCfg, err := loopConfig(cmd)
	if err != nil {
		return err
	}

	adapterName, _ := f.GetString(flagAdapter)
	acfg, err := adapterConfig(cmd)
	if err != nil {
		return err
	}
	dev, err := cannode.NewAdapter(adapterName, acfg)
	if err != nil {
		return err
	}

	var bus cannode.BusNode = dev
	if path, _ := f.GetString(flagRecord); path != "" {
		out, err := os.Create(path)
		if err != nil {
			return err
		}
		defer out.Close()
		bus = capture.Wrap(dev, out)
		glog.Infof("recording frames to %s", path)
	}

	display, err := openPanel(ctx, cmd)
	if err != nil {
		dev.Close()
		return err
	}

	events := make(chan cannode.Event, 64)
	loopCfg.OnEvent = func(e cannode.Event) {
		select {
		case events <- e:
		default:
		}
	}

	loop, err := cannode.NewControlLoop(display, bus, loopCfg)
	if err != nil {
		return errors.Join(err, display.Close(), dev.Close())
	}

	every, _ := f.GetDuration(flagHeartbeat)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(gctx)
	})
	g.Go(func() error {
		heartbeat(gctx, events, every)
		return nil
	})
	err = g.Wait()
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		err = nil
	}

	color.New(color.FgCyan).Println(loop.Stats())
	if cerr := loop.Close(); cerr != nil {
		glog.Warningf("close: %v", cerr)
	}
	return err
}

func loopConfig(cmd *cobra.Command) (*cannode.LoopConfig, error) {
	f := cmd.Flags()
	cfg := cannode.DefaultLoopConfig()

	var err error
	if cfg.Bus.CANRate, err = f.GetFloat64(flagCANRate); err != nil {
		return nil, err
	}
	modeName, _ := f.GetString(flagMode)
	if cfg.Bus.Mode, err = cannode.ParseMode(modeName); err != nil {
		return nil, err
	}
	clock, _ := f.GetInt(flagClock)
	switch cannode.Clock(clock) {
	case cannode.Clock8MHz, cannode.Clock16MHz, cannode.Clock20MHz:
		cfg.Bus.Clock = cannode.Clock(clock)
	default:
		return nil, fmt.Errorf("unsupported clock %d MHz", clock)
	}
	cfg.Bus.ClkOut, _ = f.GetBool(flagClkOut)

	if cfg.InitialCounter, err = f.GetUint16(flagStartID); err != nil {
		return nil, err
	}
	if cfg.InitialCounter > cannode.MaxStandardID {
		return nil, &cannode.IdentifierRangeError{Value: uint32(cfg.InitialCounter)}
	}
	cfg.PollInterval, _ = f.GetDuration(flagPoll)
	cfg.BackoffInterval, _ = f.GetDuration(flagBackoff)
	cfg.HaltOnSendError, _ = f.GetBool(flagHaltOnSendError)
	if wrap, _ := f.GetBool(flagWrapIDs); wrap {
		cfg.OnIdentifierExhausted = cannode.ExhaustWrap
	}
	return cfg, nil
}

// openPanel brings the status panel up, retrying a few times since I2C
// panels are often still powering up when the node starts.
func openPanel(ctx context.Context, cmd *cobra.Command) (cannode.Display, error) {
	f := cmd.Flags()
	name, _ := f.GetString(flagPanel)
	attempts, _ := f.GetUint(flagDisplayRetries)
	if attempts == 0 {
		attempts = 1
	}
	cfg, err := panelConfig(cmd)
	if err != nil {
		return nil, err
	}

	var display cannode.Display
	err = retry.Do(
		func() error {
			var err error
			display, err = panel.New(name, cfg)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			glog.Warningf("panel %s attempt %d failed: %v", name, n+1, err)
		}),
	)
	if err != nil {
		return nil, cannode.Unrecoverable(err)
	}
	return display, nil
}

func panelConfig(cmd *cobra.Command) (*panel.Config, error) {
	f := cmd.Flags()
	cfg := &panel.Config{}
	cfg.I2CBus, _ = f.GetString(flagI2CBus)
	cfg.MQTT, _ = f.GetString(flagMQTT)
	cfg.Width, _ = f.GetInt(flagPanelWidth)
	cfg.Height, _ = f.GetInt(flagPanelHeight)
	if cfg.Width < 0 || cfg.Height < 0 {
		return nil, fmt.Errorf("invalid panel size %dx%d", cfg.Width, cfg.Height)
	}
	return cfg, nil
}

// heartbeat drains loop events and logs a traffic summary every interval.
func heartbeat(ctx context.Context, events <-chan cannode.Event, every time.Duration) {
	var tick <-chan time.Time
	if every > 0 {
		t := time.NewTicker(every)
		defer t.Stop()
		tick = t.C
	}
	var infos, errs int
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-events:
			switch e.Type {
			case cannode.EventTypeError:
				errs++
			case cannode.EventTypeInfo:
				infos++
			}
		case <-tick:
			glog.Infof("last %s: %d info events, %d errors", every, infos, errs)
			infos, errs = 0, 0
		}
	}
}
