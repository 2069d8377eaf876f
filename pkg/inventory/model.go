package inventory

import (
	"fmt"
	"runtime"
	"strings"
)

// FirmwareComponent identifies one independently versioned firmware part,
// for example MAIN or SUB1.
type FirmwareComponent struct {
	ID      string
	Version string
}

// String formats the component as "<id>@<version>".
func (c FirmwareComponent) String() string {
	return c.ID + "@" + c.Version
}

// ParseComponent parses the "<id>@<version>" form produced by String.
// The id ends at the first '@'; the version may contain further '@'.
func ParseComponent(value string) (FirmwareComponent, error) {
	id, version, ok := strings.Cut(value, "@")
	if !ok || id == "" {
		return FirmwareComponent{}, fmt.Errorf("invalid firmware component %q, format: firmid@firmver", value)
	}
	return FirmwareComponent{ID: id, Version: version}, nil
}

// DeviceIdentity describes a printer as far as the update API is concerned.
// Empty strings mean "not reported".
type DeviceIdentity struct {
	Model      string
	Serial     string
	Spec       string
	Components []FirmwareComponent
}

// ComponentsString joins the components for log output.
func (d DeviceIdentity) ComponentsString() string {
	parts := make([]string, 0, len(d.Components))
	for _, c := range d.Components {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, ", ")
}

// OS is the operating system reported to the update API.
type OS string

const (
	Windows OS = "WINDOWS"
	Mac     OS = "MAC"
	Linux   OS = "LINUX"
)

// ParseOS accepts WINDOWS, MAC or LINUX in any case.
func ParseOS(v string) (OS, error) {
	switch os := OS(strings.ToUpper(strings.TrimSpace(v))); os {
	case Windows, Mac, Linux:
		return os, nil
	}
	return "", fmt.Errorf("unsupported os %q (WINDOWS, MAC, LINUX)", v)
}

// RunningOS maps runtime.GOOS onto the values the update API knows.
func RunningOS() OS {
	return osFor(runtime.GOOS)
}

func osFor(goos string) OS {
	switch goos {
	case "windows":
		return Windows
	case "darwin":
		return Mac
	default:
		return Linux
	}
}
