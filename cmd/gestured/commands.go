package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zoobzio/gesture"
	"github.com/zoobzio/gesture/pkg/file"
	"github.com/zoobzio/gesture/pkg/torch"
)

// errStreamClosed is returned by the daemon when the store ends its change
// stream before shutdown was requested.
var errStreamClosed = errors.New("preference store closed its change stream")

// app carries state resolved once for every command.
type app struct {
	cfg    *Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "gestured",
		Short: "Mirror gesture preferences from a backing store",
		Long: `gestured loads the gesture preferences from the configured backend,
keeps them current as the backend changes, and logs every update.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logger
			return nil
		},
		RunE: a.run,
	}
	addFlags(root.PersistentFlags())

	root.AddCommand(a.statusCmd(), a.setCmd(), a.torchCmd())
	return root
}

// run watches the backend until interrupted.
func (a *app) run(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer hookSignals(a.logger)()

	b, err := openBackend(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer b.close()

	done := make(chan struct{})
	stats := &counters{}
	s := a.newSettings(b, stats).OnStop(func(gesture.State) {
		close(done)
	})
	defer func() {
		a.logger.Info("settings summary", stats.attrs()...)
	}()
	if err := s.Start(ctx); err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "watching preferences",
		append([]any{"backend", a.cfg.Backend}, flagAttrs(s.Flags())...)...)

	select {
	case <-ctx.Done():
		<-done
		return nil
	case <-done:
		if ctx.Err() != nil {
			return nil
		}
		return errStreamClosed
	}
}

// newSettings builds Settings for the daemon configuration, reporting
// activity to stats.
func (a *app) newSettings(b *backend, stats *counters) *gesture.Settings {
	var opts []gesture.Option
	if a.cfg.Retries > 1 {
		opts = append(opts, gesture.WithBackoff(a.cfg.Retries, 100*time.Millisecond))
	}

	var s *gesture.Settings
	notifier := gesture.NotifierFunc(func() {
		a.logger.Info("gesture state", flagAttrs(s.Flags())...)
	})

	s = gesture.New(b.store, b.secure, notifier, opts...).
		Debounce(a.cfg.Debounce).
		Metrics(stats).
		ErrorHistorySize(16)
	if a.cfg.System != "" {
		s.Propagator(gesture.Mirror(b.store, file.New(a.cfg.System)))
	}
	if a.cfg.Torch.Dir != "" {
		s.Torch(torch.New(a.cfg.Torch.Dir))
	}
	return s
}

// status is the document printed by the status command.
type status struct {
	Preferences gesture.Flags `json:"preferences" yaml:"preferences"`
	DozeEnabled bool          `json:"doze_enabled" yaml:"doze_enabled"`
}

func (a *app) statusCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the stored gesture preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var codec gesture.Codec
			switch format {
			case "json":
				codec = gesture.JSONCodec{}
			case "yaml":
				codec = gesture.YAMLCodec{}
			default:
				return fmt.Errorf("unknown format %q", format)
			}

			ctx := cmd.Context()
			b, err := openBackend(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer b.close()

			data, err := codec.Marshal(status{
				Preferences: gesture.Load(ctx, b.store),
				DozeEnabled: gesture.IsDozeEnabled(ctx, b.secure),
			})
			if err != nil {
				return fmt.Errorf("encode status: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "output format: json, yaml")
	return cmd
}

func (a *app) setCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY true|false|unset",
		Short: "Write a preference to the backend",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := openBackend(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer b.close()

			return a.set(ctx, b.writer, args[0], args[1])
		},
	}
}

func (a *app) set(ctx context.Context, w gesture.Writer, key, value string) error {
	if value == "unset" {
		if err := w.Delete(ctx, key); err != nil {
			return err
		}
		a.logger.InfoContext(ctx, "preference unset", "preference", key)
		return nil
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("value for %s: %w", key, err)
	}
	if err := w.SetBool(ctx, key, v); err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "preference set", "preference", key, "value", v)
	return nil
}

func (a *app) torchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "torch",
		Short: "Run the chop-chop torch action if the gesture is enabled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			defer hookSignals(a.logger)()

			b, err := openBackend(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer b.close()

			if !gesture.Load(ctx, b.store).ChopChop {
				a.logger.InfoContext(ctx, "chop-chop gesture disabled")
				return nil
			}
			s := gesture.New(b.store, b.secure, nil).Torch(torch.New(a.cfg.Torch.Dir))
			return s.ChopChopAction(ctx)
		},
	}
}

// flagAttrs renders flags as slog key-value pairs in load order.
func flagAttrs(f gesture.Flags) []any {
	keys := gesture.TrackedKeys()
	attrs := make([]any, 0, 2*len(keys))
	for _, key := range keys {
		v, _ := f.Get(key)
		attrs = append(attrs, key, v)
	}
	return attrs
}
