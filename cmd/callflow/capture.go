package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sweeney/asterisk-callflow/internal/ami"
	"github.com/sweeney/asterisk-callflow/internal/config"
)

func newCaptureCmd(configPath *string) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Record raw AMI traffic to a file for later replay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logs, err := setupLogging(cfg, cmd)
			if err != nil {
				return err
			}
			defer logs.Close()
			log := logs.Component("capture")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("mkdir: %w", err)
			}
			name := filepath.Join(outDir, captureName(time.Now()))

			client, err := ami.Dial(ctx, cfg.AMI.Addr(), ami.Credentials{
				Username: cfg.AMI.Username,
				Secret:   cfg.AMI.Secret,
			}, logs.Component("ami"))
			if err != nil {
				return err
			}
			defer client.Close()

			f, err := os.Create(name)
			if err != nil {
				return fmt.Errorf("create: %w", err)
			}
			defer f.Close()

			log.WithField("file", name).Info("streaming events (ctrl+c to stop)")
			n, err := capture(client, client.Banner, f)
			log.WithField("events", n).Info("capture finished")
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&outDir, "outdir", "testdata/captures", "Output directory for captures")
	return cmd
}

func captureName(now time.Time) string {
	return now.Format("20060102-150405") + "-" + uuid.NewString()[:8] + ".raw"
}

// capture writes banner and every event of src to w in AMI wire format and
// returns how many events were written.
func capture(src ami.Source, banner string, w io.Writer) (int, error) {
	out := ami.NewWriter(w)
	if banner != "" {
		if err := out.Write(ami.NewEvent("", banner)); err != nil {
			return 0, fmt.Errorf("write banner: %w", err)
		}
	}

	n := 0
	for {
		evt, ok := src.Next()
		if !ok {
			break
		}
		if err := out.Write(evt); err != nil {
			return n, fmt.Errorf("write event: %w", err)
		}
		n++
		// events arrive slowly on a live PBX; keep the file current
		if err := out.Flush(); err != nil {
			return n, fmt.Errorf("write event: %w", err)
		}
	}
	if err := out.Flush(); err != nil {
		return n, fmt.Errorf("write event: %w", err)
	}
	return n, src.Err()
}
