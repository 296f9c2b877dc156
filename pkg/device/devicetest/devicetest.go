// Package devicetest serves a fake temperature-monitoring device over httptest.
//
// The fake mirrors the firmware's API: six NTC channels, reading windows of 360 and
// 1440 samples and Wi-Fi configuration with redacted passwords. Tests adjust the
// exported fields, or replace single paths with Override, before starting it.
package devicetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/nimdanitro/thermo-conformance/pkg/device"
	"github.com/nimdanitro/thermo-conformance/pkg/schema"
)

// ContentType is what the firmware sends for every API response.
const ContentType = "application/javascript"

type Device struct {
	MaxNumActive int
	Sensors      []device.SensorSummary
	SoftAP       device.SoftAPConfig
	Network      device.NetworkConfig

	// ContentType is sent with every generated response.
	ContentType string
	// LeakPasswords returns the stored Wi-Fi passwords instead of the redaction literal.
	LeakPasswords bool
	// Series returns the readings of s for a window. The default fills the window
	// with s.LastValue.
	Series func(window string, s device.SensorSummary) []float64
	// Override replaces the handler for an exact request path.
	Override map[string]http.HandlerFunc

	mu       sync.Mutex
	requests map[string]int
}

// New returns a healthy six channel device.
func New() *Device {
	d := &Device{
		MaxNumActive: 6,
		ContentType:  ContentType,
		SoftAP: device.SoftAPConfig{
			SSID:     "TestAP",
			Password: "testtest",
			IP:       "192.168.0.1",
			Gateway:  "192.168.0.1",
			Subnet:   "255.255.255.0",
		},
		Network: device.NetworkConfig{
			Enabled:    0,
			Assignment: "dhcp",
			SSID:       "HouseNetwork",
			Password:   "testtest",
			Static: device.StaticConfig{
				IP:      "192.168.1.1",
				Gateway: "192.168.1.1",
				Subnet:  "255.255.255.0",
			},
		},
		Override: map[string]http.HandlerFunc{},
		requests: map[string]int{},
	}
	for i := 0; i < 6; i++ {
		d.Sensors = append(d.Sensors, device.SensorSummary{
			ID:        fmt.Sprintf("ntc%d", i),
			Type:      device.TypeNTC,
			Name:      fmt.Sprintf("Sensor%d", i),
			Active:    1,
			LastValue: 20.5 + float64(i),
		})
	}
	return d
}

// Start serves the device until the test ends.
func (d *Device) Start(t testing.TB) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(d.Handler())
	t.Cleanup(srv.Close)
	return srv
}

// Requests returns how many times path was requested.
func (d *Device) Requests(path string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests[path]
}

func (d *Device) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sensors", d.listSensors)
	mux.HandleFunc("GET /api/sensors/{id}", d.getSensor)
	mux.HandleFunc("GET /api/readings/{window}", d.readings)
	mux.HandleFunc("GET /api/wifi/softap", d.softAP)
	mux.HandleFunc("GET /api/wifi/network", d.network)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		d.requests[r.URL.Path]++
		override := d.Override[r.URL.Path]
		d.mu.Unlock()

		if override != nil {
			override(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})
}

// Raw answers with a fixed status, content type and body.
func Raw(status int, contentType, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func (d *Device) write(w http.ResponseWriter, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", d.ContentType)
	_, _ = w.Write(body)
}

func (d *Device) listSensors(w http.ResponseWriter, _ *http.Request) {
	d.write(w, device.SensorList{MaxNumActive: d.MaxNumActive, Sensors: d.Sensors})
}

func (d *Device) getSensor(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	for _, s := range d.Sensors {
		if s.ID == id {
			d.write(w, s)
			return
		}
	}
	http.NotFound(w, r)
}

func (d *Device) readings(w http.ResponseWriter, r *http.Request) {
	window := r.PathValue("window")
	n, ok := device.Windows[window]
	if !ok {
		http.NotFound(w, r)
		return
	}

	var out device.ReadingsList
	for _, s := range d.Sensors {
		var series []float64
		if d.Series != nil {
			series = d.Series(window, s)
		} else {
			series = make([]float64, n)
			for i := range series {
				series[i] = s.LastValue
			}
		}
		out.Sensors = append(out.Sensors, device.SensorReadings{ID: s.ID, Type: s.Type, Name: s.Name, Readings: series})
	}
	d.write(w, out)
}

func (d *Device) softAP(w http.ResponseWriter, _ *http.Request) {
	cfg := d.SoftAP
	if !d.LeakPasswords {
		cfg.Password = schema.RedactionLiteral
	}
	d.write(w, cfg)
}

func (d *Device) network(w http.ResponseWriter, _ *http.Request) {
	cfg := d.Network
	if !d.LeakPasswords {
		cfg.Password = schema.RedactionLiteral
	}
	d.write(w, cfg)
}
