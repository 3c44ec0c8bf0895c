// Command scxmlrt-demo runs a small traffic-light state chart end to end:
// build it with package chart's builder, drive it on a real ticker through
// runtime.Runtime, and print its configuration and a DOT export each
// cycle, while serving the runtime's Prometheus metrics on
// 127.0.0.1:9090/metrics. Directly adapted from cmd/demo/main.go, which
// did the same thing against internal/core.Machine; cmd/examples/basic
// consolidated in alongside it since both were single-file smoke demos
// for the same kind of traffic-light chart.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/comalice/scxmlrt/chart"
	"github.com/comalice/scxmlrt/evaluator/memscope"
	"github.com/comalice/scxmlrt/event"
	"github.com/comalice/scxmlrt/logging"
	"github.com/comalice/scxmlrt/persistence"
	"github.com/comalice/scxmlrt/runtime"
	"github.com/comalice/scxmlrt/telemetry"
)

func buildTrafficLight() (*chart.Chart, error) {
	b := chart.NewBuilder("traffic-light", "traffic")
	root := b.Root()

	red := root.Child("red", chart.Atomic)
	green := root.Child("green", chart.Atomic)
	yellow := root.Child("yellow", chart.Atomic)
	root.Initial(red)

	red.Transition(chart.On([]string{"TIMER"}, green))
	green.Transition(chart.On([]string{"TIMER"}, yellow))
	yellow.Transition(chart.On([]string{"TIMER"}, red))

	return b.Build()
}

func main() {
	logging.Configure(zerolog.InfoLevel, true)
	log := logging.For("cmd/scxmlrt-demo")

	c, err := buildTrafficLight()
	if err != nil {
		log.Fatal().Err(err).Msg("build chart")
	}

	persister, err := persistence.NewJSONPersister(os.TempDir())
	if err != nil {
		log.Fatal().Err(err).Msg("create persister")
	}

	publishCh := make(chan persistence.PublishedEvent, 100)
	publisher := persistence.NewChannelPublisher(publishCh)
	defer publisher.Close()

	visualizer := &persistence.Visualizer{}
	metrics := telemetry.New()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	metricsSrv := &http.Server{Addr: "127.0.0.1:9090", Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn().Err(err).Msg("metrics server stopped")
		}
	}()
	defer metricsSrv.Close()

	rt := runtime.New(
		runtime.WithScopeFactory(memscope.New),
		runtime.WithLogger(logging.Sink(log)),
		runtime.WithMetrics(metrics),
	)

	const sessionID = "traffic-light-1"
	if _, err := rt.CreateSession(sessionID, c); err != nil {
		log.Fatal().Err(err).Msg("create session")
	}
	if err := rt.Initialize(sessionID); err != nil {
		log.Fatal().Err(err).Msg("initialize session")
	}
	defer rt.Shutdown(sessionID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for cycles := 0; cycles < 12; cycles++ {
		select {
		case <-ticker.C:
			if err := rt.RaiseExternal(sessionID, event.New("TIMER")); err != nil {
				fmt.Printf("send error: %v\n", err)
				continue
			}
			cfg, _ := rt.CurrentConfiguration(sessionID)
			fmt.Printf("\n--- Cycle %d ---\n", cycles+1)
			fmt.Println("Current states:", cfg)
			fmt.Println("DOT:\n" + visualizer.ExportDOT(c, cfg))

			if snap, err := rt.Sessions.Get(sessionID); err == nil {
				_ = persister.Save(ctx, snap.ToSnapshot())
			}

			select {
			case pub := <-publishCh:
				fmt.Printf("published: %s in session %s\n", pub.Event.Name, pub.SessionID)
			default:
			}
		case <-sig:
			fmt.Println("\nshutting down gracefully...")
			return
		case <-ctx.Done():
			return
		}
	}
	fmt.Println("demo complete after 12 cycles.")
}
