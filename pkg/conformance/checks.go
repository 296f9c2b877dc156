package conformance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nimdanitro/thermo-conformance/pkg/contract"
	"github.com/nimdanitro/thermo-conformance/pkg/schema"
)

// Rules added on top of the schema rules.
const (
	RuleStatus      = "status"
	RuleContentType = "contentType"
	RuleJSON        = "json"
	RuleMismatch    = "mismatch"
	RuleActiveLimit = "activeLimit"
)

// Fields the listing and the per-sensor endpoint must agree on exactly. lastValue is
// compared separately with the configured tolerance.
var sharedSensorFields = []string{"id", "type", "name", "active"}

// fetch GETs an endpoint and checks status, content type and schema. It returns the
// decoded body, or nil when there is no 200 JSON body to look at.
func (c *Checker) fetch(ctx context.Context, res *Result, ep *contract.Endpoint, params map[string]string) any {
	resp, err := c.client.Get(ctx, ep.Path, params)
	if err != nil {
		res.fail(err)
		return nil
	}
	res.Requests++
	if resp.Path != "" {
		res.Endpoint = resp.Path
	}

	if resp.Status != http.StatusOK {
		res.violate("", RuleStatus, strconv.Itoa(http.StatusOK), strconv.Itoa(resp.Status))
	}
	if !ep.MatchContentType(resp.ContentType) {
		actual := strconv.Quote(resp.ContentType)
		if resp.ContentType == "" {
			actual = "none"
		}
		res.violate("", RuleContentType, strconv.Quote(ep.ContentType), actual)
	}
	if resp.Status != http.StatusOK {
		return nil
	}

	doc, err := schema.Decode(resp.Body)
	if err != nil {
		res.violate("", RuleJSON, "valid JSON document", err.Error())
		return nil
	}
	for _, v := range schema.Validate(doc, ep.Schema, schema.Options{Strict: c.strict}) {
		res.Violations = append(res.Violations, Violation{Endpoint: res.Endpoint, Violation: v})
	}
	return doc
}

func (c *Checker) checkEndpoint(ctx context.Context, name string) *Result {
	started := time.Now()
	ctx, span, res := c.start(ctx, name, "")
	defer c.finish(ctx, span, res, started)

	ep, err := c.contract.Endpoint(name)
	if err != nil {
		res.fail(err)
		return res
	}
	res.Endpoint = string(ep.Path)
	c.fetch(ctx, res, ep, nil)
	return res
}

// checkSensors validates the sensor listing and then fetches every listed sensor
// on its own. The follow-ups only run when the listing itself could be read.
func (c *Checker) checkSensors(ctx context.Context) []*Result {
	res, listed, ok := c.checkListing(ctx)
	if !ok {
		return []*Result{res}
	}
	return append([]*Result{res}, c.followUps(ctx, listed)...)
}

func (c *Checker) checkListing(ctx context.Context) (*Result, []map[string]any, bool) {
	started := time.Now()
	ctx, span, res := c.start(ctx, contract.Sensors, "")
	defer c.finish(ctx, span, res, started)

	ep, err := c.contract.Endpoint(contract.Sensors)
	if err != nil {
		res.fail(err)
		return res, nil, false
	}
	res.Endpoint = string(ep.Path)

	doc := c.fetch(ctx, res, ep, nil)
	if doc == nil {
		return res, nil, false
	}
	listed := listedSensors(res, doc)
	if c.strict {
		c.checkActiveLimit(res, doc, listed)
	}
	return res, listed, true
}

// listedSensors returns the listing entries that carry a string id, skipping
// repeated ids. An empty id cannot be followed up and is recorded on res.
func listedSensors(res *Result, doc any) []map[string]any {
	m, _ := doc.(map[string]any)
	items, _ := m["sensors"].([]any)

	seen := make(map[string]bool, len(items))
	var out []map[string]any
	for i, item := range items {
		s, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, ok := s["id"].(string)
		if ok && id == "" {
			res.violate(fmt.Sprintf("sensors[%d].id", i), schema.RuleRequired, "non-empty id", `""`)
			continue
		}
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, s)
	}
	return out
}

func (c *Checker) checkActiveLimit(res *Result, doc any, listed []map[string]any) {
	m, _ := doc.(map[string]any)
	raw, ok := m["max_num_active"]
	if !ok {
		return
	}
	if schema.TypeOf(raw) != string(schema.Integer) {
		res.violate("max_num_active", schema.RuleType, string(schema.Integer), schema.TypeOf(raw))
		return
	}
	limit, _ := schema.Number(raw)
	if limit < 0 {
		res.violate("max_num_active", schema.RuleMinimum, ">= 0", schema.Format(raw))
		return
	}

	active := 0
	for _, s := range listed {
		if schema.Equal(s["active"], 1) {
			active++
		}
	}
	if float64(active) > limit {
		res.violate("sensors", RuleActiveLimit, "at most "+schema.Format(raw)+" active", strconv.Itoa(active))
	}
}

func (c *Checker) followUps(ctx context.Context, listed []map[string]any) []*Result {
	ep, err := c.contract.Endpoint(contract.Sensor)
	if err != nil {
		started := time.Now()
		ctx, span, res := c.start(ctx, contract.Sensor, "")
		res.fail(err)
		c.finish(ctx, span, res, started)
		return []*Result{res}
	}

	results := make([]*Result, len(listed))
	if c.parallel <= 1 {
		for i, s := range listed {
			results[i] = c.checkSensor(ctx, ep, s)
		}
		return results
	}

	var g errgroup.Group
	g.SetLimit(c.parallel)
	for i, s := range listed {
		g.Go(func() error {
			results[i] = c.checkSensor(ctx, ep, s)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// checkSensor fetches one listed sensor and compares it with its listing entry.
func (c *Checker) checkSensor(ctx context.Context, ep *contract.Endpoint, listed map[string]any) *Result {
	id := listed["id"].(string)
	params := map[string]string{"id": id}

	started := time.Now()
	ctx, span, res := c.start(ctx, contract.Sensors+"/"+id, "")
	defer c.finish(ctx, span, res, started)

	res.Endpoint = string(ep.Path)
	doc := c.fetch(ctx, res, ep, params)
	if got, ok := doc.(map[string]any); ok {
		c.compareSensor(res, listed, got)
	}
	return res
}

func (c *Checker) compareSensor(res *Result, listed, got map[string]any) {
	for _, f := range sharedSensorFields {
		want, ok := listed[f]
		if !ok {
			continue
		}
		have, ok := got[f]
		if !ok {
			continue
		}
		if !schema.Equal(want, have) {
			res.violate(f, RuleMismatch, schema.Format(want)+" as listed", schema.Format(have))
		}
	}

	if c.tolerance < 0 {
		return
	}
	want, ok := schema.Number(listed["lastValue"])
	if !ok {
		return
	}
	have, ok := schema.Number(got["lastValue"])
	if !ok {
		return
	}
	if !schema.Within(want, have, c.tolerance) {
		expected := fmt.Sprintf("%s as listed", schema.Format(listed["lastValue"]))
		if c.tolerance > 0 {
			expected = fmt.Sprintf("%s ± %g as listed", schema.Format(listed["lastValue"]), c.tolerance)
		}
		res.violate("lastValue", RuleMismatch, expected, schema.Format(got["lastValue"]))
	}
}
