package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/e7canasta/orion-inspect/control"
	"github.com/e7canasta/orion-inspect/emitter"
	"github.com/e7canasta/orion-inspect/framebuffer"
	"github.com/e7canasta/orion-inspect/inference/worker"
	"github.com/e7canasta/orion-inspect/internal/gstreamer"
	"github.com/e7canasta/orion-inspect/pipeline"
	"github.com/e7canasta/orion-inspect/preview"
	"github.com/e7canasta/orion-inspect/session"
	"github.com/e7canasta/orion-inspect/settings"
	"github.com/e7canasta/orion-inspect/source"
)

const shutdownTimeout = 10 * time.Second

type runOptions struct {
	idle bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load the model, open the source and serve the preview",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := settingsViper(cmd, root.configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runInspector(ctx, root.configPath, v, opts)
		},
	}
	bindSettingsFlags(cmd)
	cmd.Flags().BoolVar(&opts.idle, "idle", false, "Load the model but wait for a start command before opening the source")
	return cmd
}

// bindSettingsFlags registers the flags that override settings keys.
func bindSettingsFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("model", "", "Path to the model weights")
	f.String("source", "", "Device index, video file or URL")
	f.Float64("confidence", 0, "Minimum detection confidence (0-1)")
	f.String("cookies", "", "Cookie file passed to yt-dlp")
	f.String("addr", "", "Preview listen address")
	f.String("broker", "", "MQTT broker for control and detections (disabled when empty)")
}

var flagKeys = map[string]string{
	"model":      "model_path",
	"source":     "source",
	"confidence": "confidence",
	"cookies":    "cookie_file",
	"addr":       "preview.addr",
	"broker":     "mqtt.broker",
}

func settingsViper(cmd *cobra.Command, path string) (*viper.Viper, error) {
	v := settings.NewViper(path)
	for name, key := range flagKeys {
		fl := cmd.Flags().Lookup(name)
		if fl == nil {
			continue
		}
		if err := v.BindPFlag(key, fl); err != nil {
			return nil, fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}
	return v, nil
}

func runInspector(ctx context.Context, configPath string, v *viper.Viper, opts *runOptions) error {
	s, err := settings.FromViper(v)
	if err != nil {
		return err
	}
	live := settings.NewLive(s)

	slog.Info("starting orion inspector",
		"config", configPath,
		"model", s.ModelPath,
		"source", s.Source,
		"confidence", s.Confidence,
		"preview", s.Preview.Addr,
	)

	dec := gstreamer.NewDecoder(gstreamer.DefaultConfig())
	resolver, err := source.NewResolver(source.Config{
		Extractor: source.NewYTDLP(""),
		Opener:    dec,
		TempDir:   s.TempDir,
	})
	if err != nil {
		return err
	}

	var em *emitter.MQTT
	if s.MQTT.Broker != "" {
		em = emitter.NewMQTT(emitter.Config{
			Broker:      s.MQTT.Broker,
			ClientID:    s.MQTT.ClientID,
			TopicPrefix: s.MQTT.TopicPrefix,
			QoS:         s.MQTT.QoS,
		})
	}

	buf := framebuffer.New()
	hub := preview.NewHub()
	defer hub.Close()

	p, err := pipeline.New(pipeline.Config{
		Decoder:    dec,
		Buffer:     buf,
		Confidence: live.Confidence,
		OnFrame: func(ev pipeline.FrameEvent) {
			if em != nil {
				em.EmitFrame(ev)
			}
		},
		OnState: func(snap pipeline.Snapshot) {
			if snap.Phase == pipeline.PhaseStopped {
				hub.Reset()
			}
			if em != nil {
				em.EmitStatus(snap)
			}
		},
	})
	if err != nil {
		return err
	}

	svc, err := session.New(session.Config{
		Settings:    s,
		Live:        live,
		Resolver:    resolver,
		Loader:      worker.Loader(s.Worker.Command, s.Worker.ImageSize),
		Pipeline:    p,
		Snapshots:   preview.NewSnapshotWriter(s.Preview.SnapshotDir),
		DownloadDir: resolver.TempDir(),
	})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := svc.Close(closeCtx); err != nil {
			slog.Error("shutdown failed", "error", err)
		}
		slog.Info("orion inspector stopped")
	}()

	dispatcher := control.NewDispatcher(svc)
	dispatcher.SettingsPath = configPath

	g, gctx := errgroup.WithContext(ctx)

	if em != nil {
		if err := em.Connect(gctx); err != nil {
			return err
		}
		defer em.Disconnect()

		listener := control.NewMQTTListener(em.Client, dispatcher, s.MQTT.TopicPrefix, s.MQTT.QoS)
		if err := listener.Start(gctx); err != nil {
			return err
		}
		defer listener.Stop()
	}

	renderer := preview.NewRenderer(buf, hub)
	server := preview.NewServer(s.Preview.Addr, hub, svc, dispatcher)

	g.Go(func() error { return renderer.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return settings.Watch(gctx, configPath, live, nil) })

	// A missing model or unreachable source leaves the inspector up so the
	// operator can fix it over the control surfaces.
	if err := svc.LoadModel(gctx, ""); err != nil {
		slog.Warn("model not loaded", "error", err)
	} else if !opts.idle {
		if err := svc.Start(gctx, ""); err != nil {
			slog.Warn("source not started", "error", err)
		}
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
