package main

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/ardnew/carlink/capture"
	"github.com/ardnew/carlink/dongle"
)

func replayCmd() *cobra.Command {
	var (
		configPath string
		session    bool
		realtime   bool
	)

	cmd := &cobra.Command{
		Use:   "replay <capture>",
		Short: "Decode a recorded capture",
		Long: `Decode the frames of a capture written by "carlink run --capture".

With --session the capture is fed through a full session in place of the
dongle, and the resulting events are printed instead of the raw frames.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			recs, err := capture.ReadAll(f)
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}

			if !session {
				printFrames(capture.Frames(recs))
				return nil
			}

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			var opts []capture.ReplayOption
			if realtime {
				opts = append(opts, capture.WithRealtime())
			}
			dev := capture.NewReplay(recs, opts...)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			sess := dongle.NewSession(dongle.WithHandler(dongle.HandlerFunc(func(ev dongle.Event) {
				fmt.Println(ev)
			})))
			if err := sess.Initialise(ctx, dev); err != nil {
				return err
			}
			if err := sess.Start(ctx, cfg); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				sess.Close()
				<-sess.Done()
			case <-sess.Done():
			}
			fmt.Printf("Session %s after %d writes\n", sess.State(), dev.Writes())
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "YAML configuration for the replayed handshake")
	f.BoolVar(&session, "session", false, "Run the capture through a session")
	f.BoolVar(&realtime, "realtime", false, "Pace a session replay by the recorded timestamps")

	return cmd
}

func printFrames(frames []capture.Frame) {
	var bad int
	for _, fr := range frames {
		at := fr.Elapsed.Truncate(time.Microsecond)
		switch {
		case fr.Err != nil:
			bad++
			fmt.Printf("%12s  error: %v\n", at, fr.Err)
		case fr.Message == nil:
			fmt.Printf("%12s  %s (undecoded, %d bytes)\n", at, fr.Header, len(fr.Body))
		default:
			fmt.Printf("%12s  %s %+v\n", at, fr.Message.MessageType(), summarize(fr))
		}
	}
	fmt.Printf("\n%d frames, %d errors\n", len(frames), bad)
}

// summarize keeps media payloads out of the listing.
func summarize(fr capture.Frame) any {
	if len(fr.Body) > 64 {
		return fmt.Sprintf("%d bytes", len(fr.Body))
	}
	return fr.Message
}
