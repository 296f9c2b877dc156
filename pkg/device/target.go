package device

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	ErrMissingTarget = errors.New("no target device address configured")
	ErrMissingParam  = errors.New("missing path parameter")
)

// ParseTarget turns a device address into a base URL. A bare host or host:port is
// served over plain http on the device, so "192.168.4.1" becomes "http://192.168.4.1".
func ParseTarget(target string) (*url.URL, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, ErrMissingTarget
	}
	if !strings.Contains(target, "://") {
		target = "http://" + target
	}

	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid target %q: %w", target, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid target %q: unsupported scheme %q", target, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("invalid target %q: no host", target)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// Path is an endpoint path template such as "/api/sensors/{id}". The client fills
// the placeholders through resty's path parameters.
type Path string

var placeholder = regexp.MustCompile(`\{([^{}/]*)\}`)

// Params lists the placeholder names of p in order.
func (p Path) Params() []string {
	var names []string
	for _, m := range placeholder.FindAllStringSubmatch(string(p), -1) {
		names = append(names, m[1])
	}
	return names
}

// Check reports whether params provides a non-empty value for every placeholder.
func (p Path) Check(params map[string]string) error {
	if strings.Count(string(p), "{")+strings.Count(string(p), "}") != 2*len(placeholder.FindAllString(string(p), -1)) {
		return fmt.Errorf("malformed placeholder in %q", p)
	}
	for _, name := range p.Params() {
		if params[name] == "" {
			return fmt.Errorf("%w {%s} in %q", ErrMissingParam, name, p)
		}
	}
	return nil
}
