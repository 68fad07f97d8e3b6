package transport

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signalsfoundry/groundlink/internal/logging"
	"github.com/signalsfoundry/groundlink/internal/registry"
	"github.com/signalsfoundry/groundlink/model"
	"github.com/signalsfoundry/groundlink/timectrl"
)

type recordingAcks struct {
	mu   sync.Mutex
	acks []model.CommandAck
}

func (r *recordingAcks) HandleAck(ctx context.Context, ack model.CommandAck) {
	r.mu.Lock()
	r.acks = append(r.acks, ack)
	r.mu.Unlock()
}

func (r *recordingAcks) received() []model.CommandAck {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.CommandAck(nil), r.acks...)
}

func newTestHub(t *testing.T) (*Hub, *registry.Registry, *httptest.Server) {
	t.Helper()
	reg := registry.New(registry.DefaultConfig(), timectrl.RealClock{}, logging.Noop())
	hub := NewHub(reg, logging.Noop())
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	return hub, reg, srv
}

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	env, err := NewEnvelope(event, payload)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

// readEvent drains the connection until it sees the wanted event.
func readEvent(t *testing.T, conn *websocket.Conn, event string) *Envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	conn.SetReadDeadline(deadline)
	for time.Now().Before(deadline) {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("read waiting for %s: %v", event, err)
		}
		if env.Event == event {
			return &env
		}
	}
	t.Fatalf("no %s event before deadline", event)
	return nil
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func statusPayload(fuID string) registry.StatusReport {
	return registry.StatusReport{
		FUID:     fuID,
		State:    model.FUStateIdle,
		Health:   model.HealthOK,
		Location: &model.Location{Latitude: 28.6139, Longitude: 77.2090},
	}
}

func TestStatusBindsAndBroadcasts(t *testing.T) {
	_, reg, srv := newTestHub(t)
	conn := dialHub(t, srv)

	sendEvent(t, conn, EventStatus, statusPayload("FU-A1"))

	waitFor(t, func() bool {
		fu, ok := reg.Get("FU-A1")
		return ok && fu.State == model.FUStateIdle
	}, "heartbeat never reached the registry")

	env := readEvent(t, conn, EventRegistryUpdate)
	var fleet []*model.FieldUnit
	if err := json.Unmarshal(env.Data, &fleet); err != nil {
		t.Fatalf("decode registry update: %v", err)
	}
	if len(fleet) != 1 || fleet[0].ID != "FU-A1" {
		t.Errorf("broadcast fleet = %+v", fleet)
	}
}

func TestSendCommandReachesBoundUnit(t *testing.T) {
	hub, reg, srv := newTestHub(t)
	conn := dialHub(t, srv)

	sendEvent(t, conn, EventStatus, statusPayload("FU-A1"))
	waitFor(t, func() bool {
		_, ok := reg.Get("FU-A1")
		return ok
	}, "unit never registered")
	waitFor(t, func() bool { return len(hub.ConnectedUnits()) == 1 }, "session never bound")

	cmd := &model.Command{
		ID:         "cmd-1",
		FUID:       "FU-A1",
		Type:       model.CommandTrack,
		ActivityID: "act-1",
		Args:       model.TrackArgs{Satellite: "ISS (ZARYA)", NoradID: "25544"},
		Timestamp:  time.Now().UTC(),
	}
	if err := hub.SendCommand(context.Background(), "FU-A1", cmd); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}

	env := readEvent(t, conn, EventCommand)
	var got model.Command
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatalf("decode command: %v", err)
	}
	if got.ID != "cmd-1" || got.ActivityID != "act-1" || got.Args.Satellite != "ISS (ZARYA)" {
		t.Errorf("received command = %+v", got)
	}
}

func TestSendCommandToUnknownUnit(t *testing.T) {
	hub, _, _ := newTestHub(t)
	err := hub.SendCommand(context.Background(), "FU-GHOST", &model.Command{ID: "cmd-1"})
	if err != ErrUnitNotConnected {
		t.Errorf("err = %v, want ErrUnitNotConnected", err)
	}
}

func TestAckFlowsToHandler(t *testing.T) {
	hub, reg, srv := newTestHub(t)
	acks := &recordingAcks{}
	hub.SetAckHandler(acks)
	conn := dialHub(t, srv)

	sendEvent(t, conn, EventStatus, statusPayload("FU-A1"))
	waitFor(t, func() bool {
		_, ok := reg.Get("FU-A1")
		return ok
	}, "unit never registered")

	sendEvent(t, conn, EventCommandAck, model.CommandAck{
		FUID: "FU-A1", CommandID: "cmd-1", Status: model.AckNack, Reason: "antenna fault",
	})

	waitFor(t, func() bool { return len(acks.received()) == 1 }, "ack never delivered")
	got := acks.received()[0]
	if got.CommandID != "cmd-1" || got.Status != model.AckNack || got.Reason != "antenna fault" {
		t.Errorf("ack = %+v", got)
	}
}

func TestMalformedPayloadKeepsSessionOpen(t *testing.T) {
	_, reg, srv := newTestHub(t)
	conn := dialHub(t, srv)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"fu_status","data":"not an object"}`)); err != nil {
		t.Fatalf("write malformed: %v", err)
	}
	// Status without fu_id is dropped too.
	sendEvent(t, conn, EventStatus, registry.StatusReport{State: model.FUStateIdle})
	// The connection must still work afterwards.
	sendEvent(t, conn, EventStatus, statusPayload("FU-A1"))

	waitFor(t, func() bool {
		_, ok := reg.Get("FU-A1")
		return ok
	}, "session did not survive malformed payloads")
}

func TestDisconnectMarksUnitOffline(t *testing.T) {
	hub, reg, srv := newTestHub(t)
	conn := dialHub(t, srv)

	sendEvent(t, conn, EventStatus, statusPayload("FU-A1"))
	waitFor(t, func() bool { return len(hub.ConnectedUnits()) == 1 }, "session never bound")

	conn.Close()

	waitFor(t, func() bool {
		fu, ok := reg.Get("FU-A1")
		return ok && fu.State == model.FUStateOffline && fu.Health == model.HealthError
	}, "unit not marked offline after disconnect")
	waitFor(t, func() bool { return len(hub.ConnectedUnits()) == 0 }, "session never dropped")
}

func TestScheduleUpdateReachesUnit(t *testing.T) {
	hub, _, srv := newTestHub(t)
	conn := dialHub(t, srv)

	sendEvent(t, conn, EventStatus, statusPayload("FU-A1"))
	waitFor(t, func() bool { return len(hub.ConnectedUnits()) == 1 }, "session never bound")

	acts := []*model.Activity{{
		ID:        "act-1",
		FUID:      "FU-A1",
		Satellite: "ISS (ZARYA)",
		NoradID:   "25544",
		Kind:      model.KindTrack,
		Start:     time.Now().UTC(),
		End:       time.Now().UTC().Add(10 * time.Minute),
		State:     model.ActivityPlanned,
	}}
	if err := hub.PushSchedule(context.Background(), "FU-A1", acts); err != nil {
		t.Fatalf("PushSchedule: %v", err)
	}

	env := readEvent(t, conn, EventScheduleUpdate)
	var update ScheduleUpdate
	if err := json.Unmarshal(env.Data, &update); err != nil {
		t.Fatalf("decode schedule update: %v", err)
	}
	if update.FUID != "FU-A1" || len(update.Activities) != 1 || update.Activities[0].ID != "act-1" {
		t.Errorf("schedule update = %+v", update)
	}
}
