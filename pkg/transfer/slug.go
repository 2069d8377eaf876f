package transfer

import "strings"

// FirmwareExt is the extension of downloaded firmware files.
const FirmwareExt = ".djf"

var slugReplacer = strings.NewReplacer(" ", "_", "@", "-", ":", "-")

// Slug converts value to a string that can be safely used as a file name.
// The result only contains [a-z0-9_-], so it never holds a path separator or
// a dot.
func Slug(value string) string {
	value = slugReplacer.Replace(strings.ToLower(strings.TrimSpace(value)))
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FileName is the deterministic name of a downloaded firmware file.
func FileName(model, componentID, version string) string {
	return Slug("firmware-"+model+"-"+componentID+"-"+version) + FirmwareExt
}
