package inventory

import (
	"errors"
	"fmt"
	"strings"
)

// NormalizeIdentity trims whitespace from every field and returns a copy that
// shares no slice with the input.
func NormalizeIdentity(d DeviceIdentity) DeviceIdentity {
	out := DeviceIdentity{
		Model:  strings.TrimSpace(d.Model),
		Serial: strings.TrimSpace(d.Serial),
		Spec:   strings.TrimSpace(d.Spec),
	}
	if len(d.Components) > 0 {
		out.Components = make([]FirmwareComponent, 0, len(d.Components))
		for _, c := range d.Components {
			out.Components = append(out.Components, FirmwareComponent{
				ID:      strings.TrimSpace(c.ID),
				Version: strings.TrimSpace(c.Version),
			})
		}
	}
	return out
}

// IdentityFromArgs builds an identity from command line values, bypassing SNMP.
func IdentityFromArgs(model, serial, spec string, components []string) (DeviceIdentity, error) {
	d := DeviceIdentity{Model: model, Serial: serial, Spec: spec}
	for _, raw := range components {
		c, err := ParseComponent(raw)
		if err != nil {
			return DeviceIdentity{}, err
		}
		d.Components = append(d.Components, c)
	}
	return NormalizeIdentity(d), nil
}

// Complete reports whether the identity carries everything the update API
// needs without asking the printer.
func (d DeviceIdentity) Complete() bool {
	return d.Model != "" && d.Serial != "" && d.Spec != "" && len(d.Components) > 0
}

// Validate checks the fields required to build an update request.
func (d DeviceIdentity) Validate() error {
	var missing []string
	if d.Model == "" {
		missing = append(missing, "model")
	}
	if d.Spec == "" {
		missing = append(missing, "spec")
	}
	if len(d.Components) == 0 {
		missing = append(missing, "firmware components")
	}
	if len(missing) > 0 {
		return fmt.Errorf("incomplete device identity: missing %s", strings.Join(missing, ", "))
	}
	for _, c := range d.Components {
		if c.ID == "" {
			return errors.New("incomplete device identity: firmware component without id")
		}
	}
	return nil
}
