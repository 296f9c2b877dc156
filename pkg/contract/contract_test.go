package contract

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nimdanitro/thermo-conformance/pkg/schema"
)

func TestDefault(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("embedded contract does not parse: %v", err)
	}

	paths := map[string]string{
		Sensors:     "/api/sensors",
		Sensor:      "/api/sensors/{id}",
		Readings1h:  "/api/readings/1h",
		Readings24h: "/api/readings/24h",
		SoftAP:      "/api/wifi/softap",
		Network:     "/api/wifi/network",
	}
	for name, path := range paths {
		e, err := c.Endpoint(name)
		if err != nil {
			t.Fatalf("endpoint %s: %v", name, err)
		}
		if string(e.Path) != path {
			t.Errorf("endpoint %s: got path %s, want %s", name, e.Path, path)
		}
		if e.ContentType != "application/javascript" {
			t.Errorf("endpoint %s: got content type %s", name, e.ContentType)
		}
	}

	for name, want := range map[string]int{Readings1h: 360, Readings24h: 1440} {
		e, _ := c.Endpoint(name)
		readings := e.Schema.Fields["sensors"].Items.Fields["readings"]
		if readings.Length == nil || *readings.Length != want {
			t.Errorf("%s: readings length %v, want %d", name, readings.Length, want)
		}
		if *readings.Items.Minimum != -100 || *readings.Items.Maximum != 120 {
			t.Errorf("%s: unexpected reading bounds", name)
		}
	}

	sensors, _ := c.Endpoint(Sensors)
	list := sensors.Schema.Fields["sensors"]
	if list.Count == nil || list.Count.Equals != "NTC" || *list.Count.Min != 6 {
		t.Errorf("unexpected NTC count constraint %+v", list.Count)
	}
	sensor, _ := c.Endpoint(Sensor)
	for _, f := range []string{"id", "type", "name", "active", "lastValue"} {
		if !sensor.Schema.Fields[f].Required {
			t.Errorf("sensor field %s should be required", f)
		}
	}

	softap, _ := c.Endpoint(SoftAP)
	if !softap.Schema.Fields["password"].Redacted {
		t.Error("softap password must be redacted")
	}
	if _, err := c.Endpoint("presentation"); !errors.Is(err, ErrUnknownEndpoint) {
		t.Errorf("expected ErrUnknownEndpoint, got %v", err)
	}
}

func TestDefaultValidatesFirmwareDocument(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	network, _ := c.Endpoint(Network)
	doc, err := schema.Decode([]byte(`{"enabled":0,"assignment":"dhcp","ssid":"HouseNetwork","password":"********","static":{"ip":"192.168.1.1","gateway":"192.168.1.1","subnet":"255.255.255.0"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if got := schema.Validate(doc, network.Schema, schema.Options{Strict: true}); len(got) != 0 {
		t.Errorf("expected no violations, got %v", got)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contract.yaml")
	data := `
endpoints:
  - name: wifi/softap
    path: /api/wifi/softap
    contentType: application/json
    schema:
      type: object
      fields:
        password: {required: true, redacted: true}
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e, err := c.Endpoint(SoftAP)
	if err != nil {
		t.Fatal(err)
	}
	if e.ContentType != "application/json" {
		t.Errorf("got %s", e.ContentType)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"empty", "endpoints: []", "no endpoints"},
		{"no name", "endpoints:\n  - path: /a\n    schema: {type: object}", "missing name"},
		{"duplicate", "endpoints:\n  - {name: a, path: /a, schema: {type: object}}\n  - {name: a, path: /b, schema: {type: object}}", "defined twice"},
		{"relative path", "endpoints:\n  - {name: a, path: a, schema: {type: object}}", "must start with /"},
		{"no schema", "endpoints:\n  - {name: a, path: /a}", "missing schema"},
		{"bad type", "endpoints:\n  - {name: a, path: /a, schema: {type: decimal}}", "unknown type"},
		{"not yaml", "endpoints: [", "parse contract"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestMatchContentType(t *testing.T) {
	e := &Endpoint{ContentType: "application/javascript"}
	for header, want := range map[string]bool{
		"application/javascript":                true,
		"application/javascript; charset=utf-8": true,
		"Application/JavaScript":                true,
		"application/json":                      false,
		"":                                      false,
	} {
		if got := e.MatchContentType(header); got != want {
			t.Errorf("%q: got %v, want %v", header, got, want)
		}
	}
}
