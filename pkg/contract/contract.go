// Package contract holds the device API contract: which endpoints exist, what they
// must answer with and the schema of each body.
package contract

import (
	_ "embed"
	"errors"
	"fmt"
	"mime"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nimdanitro/thermo-conformance/pkg/device"
	"github.com/nimdanitro/thermo-conformance/pkg/schema"
)

// Endpoint names used by the checker.
const (
	Sensors     = "sensors"
	Sensor      = "sensor"
	Readings1h  = "readings/1h"
	Readings24h = "readings/24h"
	SoftAP      = "wifi/softap"
	Network     = "wifi/network"
)

var ErrUnknownEndpoint = errors.New("endpoint not in contract")

//go:embed contract.yaml
var defaultContract []byte

type Endpoint struct {
	Name        string         `yaml:"name"`
	Path        device.Path    `yaml:"path"`
	ContentType string         `yaml:"contentType"`
	Schema      *schema.Schema `yaml:"schema"`
}

// MatchContentType compares the media type of a Content-Type header with the
// expected one, ignoring parameters such as charset.
func (e *Endpoint) MatchContentType(header string) bool {
	if e.ContentType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return false
	}
	return strings.EqualFold(mt, e.ContentType)
}

type Contract struct {
	Endpoints []*Endpoint `yaml:"endpoints"`

	byName map[string]*Endpoint
}

// Default returns the contract built into the binary.
func Default() (*Contract, error) {
	return Parse(defaultContract)
}

// Load reads a contract from a YAML file.
func Load(path string) (*Contract, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read contract: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func Parse(data []byte) (*Contract, error) {
	var c Contract
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse contract: %w", err)
	}
	if len(c.Endpoints) == 0 {
		return nil, errors.New("contract has no endpoints")
	}

	c.byName = make(map[string]*Endpoint, len(c.Endpoints))
	for i, e := range c.Endpoints {
		if e == nil || e.Name == "" {
			return nil, fmt.Errorf("endpoint %d: missing name", i)
		}
		if _, dup := c.byName[e.Name]; dup {
			return nil, fmt.Errorf("endpoint %s: defined twice", e.Name)
		}
		if !strings.HasPrefix(string(e.Path), "/") {
			return nil, fmt.Errorf("endpoint %s: path must start with /", e.Name)
		}
		if e.Schema == nil {
			return nil, fmt.Errorf("endpoint %s: missing schema", e.Name)
		}
		if err := e.Schema.Check(); err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", e.Name, err)
		}
		c.byName[e.Name] = e
	}
	return &c, nil
}

func (c *Contract) Endpoint(name string) (*Endpoint, error) {
	e, ok := c.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEndpoint, name)
	}
	return e, nil
}
