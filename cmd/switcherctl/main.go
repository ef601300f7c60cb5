// Command switcherctl drives one switcher handle (ATEM, vMix, or OBS),
// reconnecting with backoff on loss, and exposes its live state over a
// local HTTP status endpoint plus Prometheus metrics.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/4throck/switcher-client/internal/metrics"
	"github.com/4throck/switcher-client/internal/reconnect"
	"github.com/4throck/switcher-client/internal/status"
	"github.com/4throck/switcher-client/internal/switcher"
)

var Version = "dev"

func main() {
	var (
		backendFlag string
		host        string
		port        int
		password    string
		cameraLimit int
		cameraOff   int
		statusAddr  string
		debug       bool
		showVersion bool
	)

	flag.StringVar(&backendFlag, "type", "", "Switcher type: atem, vmix, or obs")
	flag.StringVar(&host, "host", "", "Switcher host/IP")
	flag.IntVar(&port, "port", 0, "Switcher port (0 = backend default)")
	flag.StringVar(&password, "password", "", "Switcher password (OBS only)")
	flag.IntVar(&cameraLimit, "camera-limit", 0, "User camera limit (0 = auto: the switcher's camera count, at most 20)")
	flag.IntVar(&cameraOff, "camera-offset", 0, "Camera channel offset")
	flag.StringVar(&statusAddr, "status-addr", status.DefaultAddr, "HTTP status server address (not read: the server always tries "+status.DefaultAddr+", then a free port)")
	flag.BoolVar(&debug, "debug", false, "Enable protocol debug logging")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.Parse()

	if showVersion {
		fmt.Printf("switcherctl %s\n", Version)
		return
	}

	kind, err := parseBackend(backendFlag)
	if err != nil {
		log.Fatalf("switcherctl: %v", err)
	}

	h, err := switcher.Create(kind, host, port, password)
	if err != nil {
		log.Fatalf("switcherctl: %v", err)
	}
	h.SetDebug(debug)
	h.SetCameraLimit(uint8(cameraLimit))
	h.SetCameraOffset(uint8(cameraOff))

	m := metrics.New()
	st := status.New(Version, kind.String(), host, port)
	st.SetMetricsHandler(m.Handler())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	quit := make(chan struct{}, 1)
	st.SetQuitHandler(func() {
		select {
		case quit <- struct{}{}:
		default:
		}
	})

	h.SetCallbacks(switcher.Callbacks{
		OnConnected: func() {
			log.Printf("[switcherctl] connected to %s %s:%d", kind, host, port)
			st.SetConnected(true)
			m.Connected.WithLabelValues(kind.String()).Set(1)
		},
		OnDisconnected: func() {
			log.Printf("[switcherctl] disconnected from %s %s:%d", kind, host, port)
			st.SetConnected(false)
			st.SetInitialized(false)
			m.Connected.WithLabelValues(kind.String()).Set(0)
			m.Initialized.WithLabelValues(kind.String()).Set(0)
		},
		OnTallyChanged: func(packed uint64) {
			m.TallyChanges.WithLabelValues(kind.String()).Inc()
			s := h.GetState()
			st.SetState(s.ProgramInput, s.PreviewInput, packed)
			m.ProgramInput.WithLabelValues(kind.String()).Set(float64(s.ProgramInput))
			m.PreviewInput.WithLabelValues(kind.String()).Set(float64(s.PreviewInput))
		},
		OnStateChanged: func(name string) {
			if debug {
				log.Printf("[switcherctl] state event: %s", name)
			}
		},
	})

	st.Start()
	log.Printf("[switcherctl] status server listening on %s", st.Addr())

	run(h, st, m, kind, quit, sigCh)
}

func parseBackend(s string) (switcher.Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "atem":
		return switcher.TypeATEM, nil
	case "vmix":
		return switcher.TypeVMix, nil
	case "obs":
		return switcher.TypeOBS, nil
	case "osee":
		return switcher.TypeOSEE, nil
	default:
		return 0, fmt.Errorf("unknown -type %q (want atem, vmix, or obs)", s)
	}
}

// run drives the connect/loop/reconnect cycle until a signal or the
// HTTP quit endpoint asks to stop. The backends are single-threaded
// and cooperative; this loop supplies the cadence Loop assumes.
func run(h *switcher.Handle, st *status.Server, m *metrics.Metrics, kind switcher.Type, quit <-chan struct{}, sigCh <-chan os.Signal) {
	attempt := 0

	for {
		select {
		case <-quit:
			log.Println("[switcherctl] quit requested")
			h.Disconnect()
			st.Stop()
			return
		case sig := <-sigCh:
			log.Printf("[switcherctl] received %v, shutting down", sig)
			h.Disconnect()
			st.Stop()
			return
		default:
		}

		if err := h.Connect(5 * time.Second); err != nil {
			attempt++
			m.ReconnectCount.WithLabelValues(kind.String()).Inc()
			st.SetError(err.Error())
			delay := reconnect.Backoff(attempt)
			log.Printf("[switcherctl] connect failed: %v — retrying in %v (attempt %d)", err, delay, attempt)
			select {
			case <-time.After(delay):
			case <-quit:
				st.Stop()
				return
			case sig := <-sigCh:
				log.Printf("[switcherctl] received %v, shutting down", sig)
				st.Stop()
				return
			}
			continue
		}

		attempt = 0
		prevInit := false
		for h.IsConnected() {
			select {
			case <-quit:
				h.Disconnect()
				st.Stop()
				return
			case sig := <-sigCh:
				log.Printf("[switcherctl] received %v, shutting down", sig)
				h.Disconnect()
				st.Stop()
				return
			default:
			}

			if err := h.Loop(); err != nil {
				st.SetError(err.Error())
				log.Printf("[switcherctl] loop error: %v", err)
				break
			}
			if init := h.IsInitialized(); init != prevInit {
				prevInit = init
				st.SetInitialized(init)
				v := 0.0
				if init {
					v = 1
				}
				m.Initialized.WithLabelValues(kind.String()).Set(v)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
}
