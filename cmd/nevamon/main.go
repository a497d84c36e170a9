// nevamon polls a meter on an interval and serves the latest snapshot
// over HTTP, pushing each fresh snapshot to WebSocket clients.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/nnemirovsky/goneva/pkg/config"
	"github.com/nnemirovsky/goneva/pkg/meter"
	"github.com/nnemirovsky/goneva/pkg/session"
)

// Snapshot is one full poll of the meter.
type Snapshot struct {
	Timestamp string `json:"timestamp"`

	Device string `json:"device"`
	Model  string `json:"model"`
	Serial string `json:"serial"`

	TotalEnergy meter.ActiveEnergy `json:"total_energy_kwh"`
	Voltage     meter.Voltage      `json:"voltage_v"`
	Current     meter.Current      `json:"current_a"`
	ActivePower meter.ActivePower  `json:"active_power_w"`
	Frequency   float64            `json:"frequency_hz"`
}

type monitor struct {
	cfg *config.MonitorConfig

	latestMutex    sync.RWMutex
	latest         *Snapshot
	wsClients      map[*websocket.Conn]bool
	wsClientsMutex sync.RWMutex
}

func newMonitor(cfg *config.MonitorConfig) *monitor {
	return &monitor{cfg: cfg, wsClients: make(map[*websocket.Conn]bool)}
}

// startPolling opens a session per poll cycle and tears it down again,
// so a flaky line never wedges the daemon. Consecutive failures are
// tolerated up to a bound before backing off harder.
func (m *monitor) startPolling() {
	interval := time.Duration(m.cfg.PollIntervalSeconds) * time.Second
	consecutiveErrors := 0
	maxErrors := 5

	for {
		snapshot, err := m.poll()
		if err != nil {
			consecutiveErrors++
			log.Errorf("Poll failed (%d/%d): %v", consecutiveErrors, maxErrors, err)
			if consecutiveErrors >= maxErrors {
				log.Errorf("Too many consecutive poll failures, backing off")
				time.Sleep(5 * interval)
				consecutiveErrors = 0
			} else {
				time.Sleep(interval)
			}
			continue
		}
		consecutiveErrors = 0

		m.latestMutex.Lock()
		m.latest = snapshot
		m.latestMutex.Unlock()

		m.broadcast(snapshot)
		time.Sleep(interval)
	}
}

func (m *monitor) poll() (*Snapshot, error) {
	mc := m.cfg.Meter
	sess, err := session.Connect(mc.Address, session.Options{
		Address:         mc.BusAddress,
		Password:        mc.Password,
		ModelHint:       mc.ModelHint,
		FallbackProfile: mc.FallbackProfile,
		InitialBaud:     mc.InitialBaud,
		Timeout:         time.Duration(mc.TimeoutSeconds) * time.Second,
		Retries:         mc.Retries,
	})
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	device, serial, err := sess.Identification()
	if err != nil {
		return nil, err
	}
	snapshot := &Snapshot{
		Timestamp: time.Now().Format(time.RFC3339),
		Device:    device,
		Model:     sess.ModelName(),
		Serial:    serial,
	}

	if snapshot.TotalEnergy, err = sess.TotalEnergy(); err != nil {
		return nil, err
	}
	if snapshot.Voltage, err = sess.Voltage(); err != nil {
		return nil, err
	}
	if snapshot.Current, err = sess.Current(); err != nil {
		return nil, err
	}
	if snapshot.ActivePower, err = sess.ActivePower(); err != nil {
		return nil, err
	}
	if snapshot.Frequency, err = sess.Frequency(); err != nil {
		return nil, err
	}

	log.Infof("Polled %s: %.2f kWh total, %.1f W", serial, snapshot.TotalEnergy.Total, snapshot.ActivePower.Total)
	return snapshot, nil
}

func (m *monitor) latestSnapshot() *Snapshot {
	m.latestMutex.RLock()
	defer m.latestMutex.RUnlock()
	return m.latest
}

func (m *monitor) broadcast(snapshot *Snapshot) {
	m.wsClientsMutex.RLock()
	clients := make([]*websocket.Conn, 0, len(m.wsClients))
	for client := range m.wsClients {
		clients = append(clients, client)
	}
	m.wsClientsMutex.RUnlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		log.Errorf("Error marshaling snapshot: %v", err)
		return
	}

	for _, client := range clients {
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			m.removeClient(client)
		}
	}
}

func (m *monitor) addClient(conn *websocket.Conn) {
	m.wsClientsMutex.Lock()
	m.wsClients[conn] = true
	m.wsClientsMutex.Unlock()
}

func (m *monitor) removeClient(conn *websocket.Conn) {
	m.wsClientsMutex.Lock()
	delete(m.wsClients, conn)
	m.wsClientsMutex.Unlock()
	conn.Close()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func main() {
	if err := config.LoadMonitorConfig(); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg := config.ActiveMonitorConfig
	m := newMonitor(cfg)

	go m.startPolling()

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"message": "Neva meter monitor",
			"status":  "running",
		})
	})

	http.HandleFunc("/latest", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		snapshot := m.latestSnapshot()
		if snapshot == nil {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{
				"error": "No readings available yet",
			})
			return
		}
		json.NewEncoder(w).Encode(snapshot)
	})

	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Errorf("WebSocket upgrade error: %v", err)
			return
		}

		m.addClient(conn)

		// Send the current snapshot immediately if available
		if snapshot := m.latestSnapshot(); snapshot != nil {
			if data, err := json.Marshal(snapshot); err == nil {
				conn.WriteMessage(websocket.TextMessage, data)
			}
		}

		// Keep connection alive
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				m.removeClient(conn)
				break
			}
		}
	})

	listen := fmt.Sprintf("%s:%d", cfg.ListenAddress, cfg.ListenPort)
	log.Infof("Starting Neva meter monitor on %s", listen)
	log.Fatal(http.ListenAndServe(listen, nil))
}
