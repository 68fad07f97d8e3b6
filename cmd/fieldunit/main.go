// Command fieldunit is a simulated ground-station field unit. It connects to
// the orchestrator's websocket, heartbeats its status on an interval, and
// acknowledges every command it receives. Useful for exercising a full
// orchestrator without hardware.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/groundlink/internal/logging"
	"github.com/signalsfoundry/groundlink/internal/registry"
	"github.com/signalsfoundry/groundlink/internal/transport"
	"github.com/signalsfoundry/groundlink/model"
)

type unitOptions struct {
	serverURL string
	interval  time.Duration
	latitude  float64
	longitude float64
	idFile    string
}

func main() {
	opts := unitOptions{}

	rootCmd := &cobra.Command{
		Use:   "fieldunit",
		Short: "Simulated field unit for the groundlink orchestrator",
		Run: func(c *cobra.Command, args []string) {
			if err := run(opts); err != nil {
				log.Fatalf("fieldunit exited: %v", err)
			}
		},
	}
	rootCmd.Flags().StringVar(&opts.serverURL, "server", "ws://localhost:8080/ws", "Orchestrator websocket URL")
	rootCmd.Flags().DurationVar(&opts.interval, "interval", 10*time.Second, "Heartbeat interval")
	rootCmd.Flags().Float64Var(&opts.latitude, "lat", 28.6139, "Unit latitude in degrees")
	rootCmd.Flags().Float64Var(&opts.longitude, "lon", 77.2090, "Unit longitude in degrees")
	rootCmd.Flags().StringVar(&opts.idFile, "id-file", "fieldunit.id", "File persisting the generated unit ID")

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

// unitState is the simulator's view of itself: BUSY while a commanded track
// is inside its window, IDLE otherwise.
type unitState struct {
	mu           sync.Mutex
	trackingEnds time.Time
}

func (u *unitState) track(until time.Time) {
	u.mu.Lock()
	u.trackingEnds = until
	u.mu.Unlock()
}

func (u *unitState) current(now time.Time) model.FUState {
	u.mu.Lock()
	defer u.mu.Unlock()
	if now.Before(u.trackingEnds) {
		return model.FUStateBusy
	}
	return model.FUStateIdle
}

func run(opts unitOptions) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.NewFromEnv()
	fuID, err := loadOrCreateID(opts.idFile)
	if err != nil {
		return err
	}
	logger.Info(ctx, "field unit starting",
		logging.String("fu_id", fuID),
		logging.String("server", opts.serverURL),
	)

	for ctx.Err() == nil {
		if err := runSession(ctx, opts, fuID, logger); err != nil && ctx.Err() == nil {
			logger.Warn(ctx, "session ended; reconnecting", logging.Err(err))
		}
		select {
		case <-ctx.Done():
		case <-time.After(3 * time.Second):
		}
	}
	return nil
}

func runSession(ctx context.Context, opts unitOptions, fuID string, logger logging.Logger) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, opts.serverURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	state := &unitState{}
	var writeMu sync.Mutex
	send := func(event string, payload any) error {
		env, err := transport.NewEnvelope(event, payload)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(env)
	}

	heartbeat := func() error {
		return send(transport.EventStatus, registry.StatusReport{
			FUID:     fuID,
			State:    state.current(time.Now().UTC()),
			Health:   model.HealthOK,
			Mode:     "simulated",
			Location: &model.Location{Latitude: opts.latitude, Longitude: opts.longitude},
		})
	}
	if err := heartbeat(); err != nil {
		return err
	}

	go func() {
		ticker := time.NewTicker(opts.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				if err := heartbeat(); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		var env transport.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}
		switch env.Event {
		case transport.EventCommand:
			var cmd model.Command
			if err := json.Unmarshal(env.Data, &cmd); err != nil {
				logger.Warn(ctx, "dropping malformed command", logging.Err(err))
				continue
			}
			logger.Info(ctx, "tracking commanded",
				logging.String("command_id", cmd.ID),
				logging.String("satellite", cmd.Args.Satellite),
				logging.Time("until", cmd.Args.EndTime),
			)
			state.track(cmd.Args.EndTime)
			ack := model.CommandAck{FUID: fuID, CommandID: cmd.ID, Status: model.AckOK}
			if err := send(transport.EventCommandAck, ack); err != nil {
				return err
			}
		case transport.EventScheduleUpdate:
			var update transport.ScheduleUpdate
			if err := json.Unmarshal(env.Data, &update); err != nil {
				continue
			}
			logger.Info(ctx, "schedule received", logging.Int("activities", len(update.Activities)))
		case transport.EventRegistryUpdate:
			// Observer data; a unit ignores it.
		default:
			logger.Debug(ctx, "ignoring event", logging.String("event", env.Event))
		}
	}
}

// loadOrCreateID reads the persisted unit ID, generating and saving one on
// first run so the unit keeps its identity across restarts.
func loadOrCreateID(path string) (string, error) {
	if raw, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(raw)); id != "" {
			return id, nil
		}
	}
	id := "FU-" + strings.ToUpper(uuid.NewString()[:6])
	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return "", err
	}
	return id, nil
}
