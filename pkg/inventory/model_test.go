package inventory

import "testing"

func TestComponentRoundTrip(t *testing.T) {
	cases := []FirmwareComponent{
		{ID: "MAIN", Version: "10.1.1"},
		{ID: "SUB2", Version: "R2311081154:E7E5"},
		{ID: "SUB1", Version: ""},
		{ID: "MAIN", Version: "1.0@beta"},
	}
	for _, c := range cases {
		got, err := ParseComponent(c.String())
		if err != nil {
			t.Fatalf("ParseComponent(%q) unexpected error: %v", c.String(), err)
		}
		if got != c {
			t.Fatalf("ParseComponent(%q)=%+v want %+v", c.String(), got, c)
		}
	}
}

func TestParseComponentRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "MAIN", "@1.0"} {
		if _, err := ParseComponent(raw); err == nil {
			t.Fatalf("ParseComponent(%q) expected error", raw)
		}
	}
}

func TestParseOS(t *testing.T) {
	cases := map[string]OS{
		"windows": Windows,
		" Mac ":   Mac,
		"LINUX":   Linux,
	}
	for raw, want := range cases {
		got, err := ParseOS(raw)
		if err != nil {
			t.Fatalf("ParseOS(%q) unexpected error: %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseOS(%q)=%q want %q", raw, got, want)
		}
	}
	if _, err := ParseOS("beos"); err == nil {
		t.Fatalf("expected error for unknown os")
	}
}

func TestOSFor(t *testing.T) {
	cases := map[string]OS{
		"windows": Windows,
		"darwin":  Mac,
		"linux":   Linux,
		"freebsd": Linux,
	}
	for goos, want := range cases {
		if got := osFor(goos); got != want {
			t.Fatalf("osFor(%q)=%q want %q", goos, got, want)
		}
	}
}

func TestIdentityFromArgs(t *testing.T) {
	d, err := IdentityFromArgs(" DUMMY ", "E01234A5J678901", "0403", []string{"SUB2@R2311081154:E7E5"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Model != "DUMMY" || d.Serial != "E01234A5J678901" || d.Spec != "0403" {
		t.Fatalf("unexpected identity %+v", d)
	}
	if len(d.Components) != 1 || d.Components[0] != (FirmwareComponent{ID: "SUB2", Version: "R2311081154:E7E5"}) {
		t.Fatalf("unexpected components %+v", d.Components)
	}
	if !d.Complete() {
		t.Fatalf("identity should be complete")
	}
	if _, err := IdentityFromArgs("M", "S", "P", []string{"broken"}); err == nil {
		t.Fatalf("expected error for malformed component")
	}
}

func TestValidate(t *testing.T) {
	if err := (DeviceIdentity{}).Validate(); err == nil {
		t.Fatalf("expected error for empty identity")
	}
	ok := DeviceIdentity{Model: "MFC-9332CDW", Spec: "0403", Components: []FirmwareComponent{{ID: "MAIN", Version: "1"}}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNormalizeIdentityCopiesComponents(t *testing.T) {
	in := DeviceIdentity{Components: []FirmwareComponent{{ID: " MAIN", Version: "1 "}}}
	out := NormalizeIdentity(in)
	out.Components[0].ID = "X"
	if in.Components[0].ID != " MAIN" {
		t.Fatalf("input mutated")
	}
	if got := NormalizeIdentity(in).Components[0]; got != (FirmwareComponent{ID: "MAIN", Version: "1"}) {
		t.Fatalf("unexpected normalized component %+v", got)
	}
}
