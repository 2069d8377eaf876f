package firmware

import (
	"encoding/xml"
	"slices"

	"github.com/nmasdoufi/brfwupd/pkg/inventory"
)

// SerialField selects how the serial number element is spelled in a request.
type SerialField int

const (
	// SerialNo sends <SERIALNO> with the device serial.
	SerialNo SerialField = iota
	// SerialMisspelled sends an empty <SELIALNO> placeholder instead. Some
	// models only get a usable answer with this spelling.
	SerialMisspelled
)

// Request describes one update check. It is a plain value: variants derive
// new Requests from it and never share mutable state.
type Request struct {
	Category     string
	OS           inventory.OS
	Model        string
	Spec         string
	SerialNumber string
	SerialField  SerialField
	DriverTag    string
	Components   []inventory.FirmwareComponent
}

// NewRequest builds the canonical request for one firmware category. All
// known components are listed, not only the queried one.
func NewRequest(id inventory.DeviceIdentity, category string, os inventory.OS) Request {
	return Request{
		Category:     category,
		OS:           os,
		Model:        id.Model,
		Spec:         id.Spec,
		SerialNumber: id.Serial,
		SerialField:  SerialNo,
		Components:   slices.Clone(id.Components),
	}
}

// Variant is one request shape tried against the update API.
type Variant struct {
	Name  string
	Apply func(Request) Request
}

func canonical(r Request) Request {
	r.Components = slices.Clone(r.Components)
	return r
}

// driverEWS drops the serial number and announces the EWS driver. Needed by
// MFC-L3750CDW, HL-L2360DW and others.
func driverEWS(r Request) Request {
	r.Components = slices.Clone(r.Components)
	r.SerialNumber = ""
	r.SerialField = SerialMisspelled
	r.DriverTag = "EWS"
	return r
}

// misspelledSerial is the same transformation as driverEWS. Both attempts are
// kept on purpose: servers have answered one and not the other for the same
// model, so do not merge them without testing against real devices.
func misspelledSerial(r Request) Request {
	r.Components = slices.Clone(r.Components)
	r.SerialNumber = ""
	r.SerialField = SerialMisspelled
	r.DriverTag = "EWS"
	return r
}

// Variants returns the request shapes in the order they are tried.
func Variants() []Variant {
	return []Variant{
		{Name: "canonical", Apply: canonical},
		{Name: "ews-no-serial", Apply: driverEWS},
		{Name: "ews-misspelled-serial", Apply: misspelledSerial},
	}
}

type requestInfo struct {
	XMLName xml.Name   `xml:"REQUESTINFO"`
	Tool    toolInfo   `xml:"FIRMUPDATETOOLINFO"`
	Update  updateInfo `xml:"FIRMUPDATEINFO"`
}

type toolInfo struct {
	Category    string `xml:"FIRMCATEGORY"`
	OS          string `xml:"OS"`
	InspectMode string `xml:"INSPECTMODE"`
}

type updateInfo struct {
	Model        modelInfo `xml:"MODELINFO"`
	DriverCount  string    `xml:"DRIVERCNT"`
	LogNo        string    `xml:"LOGNO"`
	ErrBit       string    `xml:"ERRBIT"`
	NeedResponse string    `xml:"NEEDRESPONSE"`
}

type modelInfo struct {
	SerialNo *string  `xml:"SERIALNO"`
	SelialNo *string  `xml:"SELIALNO"`
	Name     string   `xml:"NAME"`
	Spec     string   `xml:"SPEC"`
	Driver   string   `xml:"DRIVER"`
	Firm     firmInfo `xml:"FIRMINFO"`
}

type firmInfo struct {
	Firms []firm `xml:"FIRM"`
}

type firm struct {
	ID      string `xml:"ID"`
	Version string `xml:"VERSION"`
}

// Marshal renders the request document posted to the update API.
func (r Request) Marshal() ([]byte, error) {
	doc := requestInfo{
		Tool: toolInfo{
			Category:    r.Category,
			OS:          string(r.OS),
			InspectMode: "1",
		},
		Update: updateInfo{
			Model: modelInfo{
				Name:   r.Model,
				Spec:   r.Spec,
				Driver: r.DriverTag,
			},
			DriverCount:  "1",
			LogNo:        "2",
			NeedResponse: "1",
		},
	}
	switch r.SerialField {
	case SerialMisspelled:
		empty := ""
		doc.Update.Model.SelialNo = &empty
	default:
		serial := r.SerialNumber
		doc.Update.Model.SerialNo = &serial
	}
	for _, c := range r.Components {
		doc.Update.Model.Firm.Firms = append(doc.Update.Model.Firm.Firms, firm{ID: c.ID, Version: c.Version})
	}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}
