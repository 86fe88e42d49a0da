package qubesd

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/qubesos/qubes-appmenu/internal/qube"
)

// VMInfo is one line of admin.vm.List.
type VMInfo struct {
	Name  string
	Class string
	State qube.RunState
}

// Property is a decoded qube property.
type Property struct {
	Default bool
	Type    string
	Value   string
}

// ListVMs returns every domain qubesd knows, including dom0.
func (c *Client) ListVMs(ctx context.Context) ([]VMInfo, error) {
	data, err := c.Call(ctx, "admin.vm.List", "dom0", "", nil)
	if err != nil {
		return nil, classify("listing qubes", "", err)
	}
	vms, err := parseVMList(string(data))
	if err != nil {
		return nil, fmt.Errorf("listing qubes: %w", err)
	}
	return vms, nil
}

// parseVMList decodes lines of "name class=X state=Y".
func parseVMList(data string) ([]VMInfo, error) {
	var out []VMInfo
	for _, line := range strings.Split(data, "\n") {
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		vm := VMInfo{Name: fields[0]}
		for _, kv := range fields[1:] {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return nil, fmt.Errorf("malformed list entry %q", line)
			}
			switch k {
			case "class":
				vm.Class = v
			case "state":
				vm.State = qube.ParseRunState(v)
			}
		}
		out = append(out, vm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetProperty returns one property of a qube.
func (c *Client) GetProperty(ctx context.Context, vm, name string) (Property, error) {
	data, err := c.Call(ctx, "admin.vm.property.Get", vm, name, nil)
	if err != nil {
		return Property{}, classify("reading property "+name+" of", vm, err)
	}
	return parseProperty(string(data))
}

// GetProperties returns every property of a qube.
func (c *Client) GetProperties(ctx context.Context, vm string) (map[string]Property, error) {
	data, err := c.Call(ctx, "admin.vm.property.GetAll", vm, "", nil)
	if err != nil {
		return nil, classify("reading properties of", vm, err)
	}
	props := make(map[string]Property)
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		name, rest, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("malformed property line %q", line)
		}
		p, err := parseProperty(rest)
		if err != nil {
			return nil, err
		}
		props[name] = p
	}
	return props, nil
}

// parseProperty decodes "default=True type=vm value". The value may be
// empty and may contain spaces; GetAll escapes newlines and backslashes.
func parseProperty(s string) (Property, error) {
	parts := strings.SplitN(s, " ", 3)
	if len(parts) < 2 {
		return Property{}, fmt.Errorf("malformed property %q", s)
	}
	def, ok := strings.CutPrefix(parts[0], "default=")
	if !ok {
		return Property{}, fmt.Errorf("malformed property %q", s)
	}
	typ, ok := strings.CutPrefix(parts[1], "type=")
	if !ok {
		return Property{}, fmt.Errorf("malformed property %q", s)
	}
	p := Property{Default: def == "True", Type: typ}
	if len(parts) == 3 {
		p.Value = unescapeValue(parts[2])
	}
	return p, nil
}

func unescapeValue(v string) string {
	if !strings.Contains(v, `\`) {
		return v
	}
	return strings.NewReplacer(`\n`, "\n", `\\`, `\`).Replace(v)
}

// GetFeature reads a feature of a qube. ok is false when it is not set.
func (c *Client) GetFeature(ctx context.Context, vm, feature string) (value string, ok bool, err error) {
	data, err := c.Call(ctx, "admin.vm.feature.Get", vm, feature, nil)
	if isException(err, excFeatureNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify("reading feature "+feature+" of", vm, err)
	}
	return string(data), true, nil
}

// CurrentState returns the power state of a qube.
func (c *Client) CurrentState(ctx context.Context, vm string) (qube.RunState, error) {
	data, err := c.Call(ctx, "admin.vm.CurrentState", vm, "", nil)
	if err != nil {
		return "", classify("reading state of", vm, err)
	}
	for _, kv := range strings.Fields(string(data)) {
		if v, ok := strings.CutPrefix(kv, "power_state="); ok {
			return qube.ParseRunState(v), nil
		}
	}
	return "", fmt.Errorf("reading state of %s: no power_state in %q", vm, data)
}

// Start starts a qube. Starting a running qube is not an error.
func (c *Client) Start(ctx context.Context, vm string) error {
	_, err := c.Call(ctx, "admin.vm.Start", vm, "", nil)
	if isException(err, excNotHalted) {
		return nil
	}
	return classify("starting", vm, err)
}

// Descriptor assembles what the menu tracks about a qube.
func (c *Client) Descriptor(ctx context.Context, info VMInfo) (qube.Descriptor, error) {
	props, err := c.GetProperties(ctx, info.Name)
	if err != nil {
		return qube.Descriptor{}, err
	}
	d := qube.Descriptor{
		Name:            info.Name,
		Class:           info.Class,
		State:           info.State,
		Label:           props["label"].Value,
		NetVM:           props["netvm"].Value,
		Template:        props["template"].Value,
		ProvidesNetwork: props["provides_network"].Value == "True",
	}
	if d.Class == "" {
		d.Class = props["klass"].Value
	}
	return d, nil
}
