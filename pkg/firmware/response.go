package firmware

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Outcome is the kind of answer the update API gave.
type Outcome int

const (
	// UpToDate means the queried component needs no update.
	UpToDate Outcome = iota
	// UpdateAvailable means Version can be fetched from DownloadURL.
	UpdateAvailable
	// Unrecognized is a VERSIONCHECK value with no known meaning. Treated as
	// "no update".
	Unrecognized
)

func (o Outcome) String() string {
	switch o {
	case UpToDate:
		return "up to date"
	case UpdateAvailable:
		return "update available"
	case Unrecognized:
		return "unrecognized"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Result is the answer for one firmware component.
type Result struct {
	Outcome     Outcome
	Version     string
	DownloadURL string
	// Code is the raw VERSIONCHECK value.
	Code string
	// AnsweredFor is the FIRMID in the response; it may differ from the
	// requested component.
	AnsweredFor string
	// Variant names the request shape that produced this result.
	Variant string
}

// HasUpdate reports whether there is something to download.
func (r Result) HasUpdate() bool {
	return r.Outcome == UpdateAvailable && r.DownloadURL != ""
}

var errNoTags = errors.New("no tags")

// responseDoc holds the text of every element of interest, in document order.
type responseDoc map[string][]string

var responseTags = []string{"VERSIONCHECK", "LATESTVERSION", "FIRMID", "PATH"}

func parseResponseDoc(body []byte) (responseDoc, error) {
	doc := responseDoc{}
	want := map[string]bool{}
	for _, t := range responseTags {
		want[t] = true
	}
	type open struct {
		name string
		text strings.Builder
	}
	var stack []*open
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.Strict = false
	seen := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("malformed response xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			seen = true
			if want[t.Name.Local] {
				stack = append(stack, &open{name: t.Name.Local})
			}
		case xml.EndElement:
			if n := len(stack); n > 0 && stack[n-1].name == t.Name.Local {
				top := stack[n-1]
				stack = stack[:n-1]
				doc[top.name] = append(doc[top.name], strings.TrimSpace(top.text.String()))
			}
		case xml.CharData:
			for _, o := range stack {
				o.text.Write(t)
			}
		}
	}
	if !seen {
		return nil, fmt.Errorf("malformed response xml: %w", errNoTags)
	}
	return doc, nil
}

// one returns the text of the single element called name.
func (d responseDoc) one(name string) (string, error) {
	switch vals := d[name]; len(vals) {
	case 0:
		return "", fmt.Errorf("invalid response: expected tag %s", name)
	case 1:
		return vals[0], nil
	default:
		return "", fmt.Errorf("invalid response: expected only one tag %s, got %d", name, len(vals))
	}
}
