package firmware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nmasdoufi/brfwupd/pkg/fwerr"
	"github.com/nmasdoufi/brfwupd/pkg/inventory"
	"github.com/nmasdoufi/brfwupd/pkg/logging"
)

var testIdentity = inventory.DeviceIdentity{
	Model:  "MFC-9332CDW",
	Serial: "E01234A5J678901",
	Spec:   "0403",
	Components: []inventory.FirmwareComponent{
		{ID: "MAIN", Version: "R2311081154:E7E5"},
		{ID: "SUB1", Version: "1.05"},
	},
}

// updateAPI records request bodies and answers them from a list, repeating
// the last answer once the list is exhausted.
type updateAPI struct {
	mu      sync.Mutex
	bodies  []string
	answers []string
	status  int
}

func (a *updateAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	a.mu.Lock()
	a.bodies = append(a.bodies, string(body))
	n := len(a.bodies)
	a.mu.Unlock()
	if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "text/xml" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if a.status != 0 {
		w.WriteHeader(a.status)
		return
	}
	answer := a.answers[len(a.answers)-1]
	if n <= len(a.answers) {
		answer = a.answers[n-1]
	}
	_, _ = io.WriteString(w, answer)
}

func newTestClient(t *testing.T, api *updateAPI) (*Client, *observer.ObservedLogs) {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	core, logs := observer.New(zapcore.DebugLevel)
	return NewClient(logging.FromZap(zap.New(core)), WithEndpoint(srv.URL)), logs
}

func response(fields string) string {
	return `<?xml version="1.0" encoding="utf-8"?><RESPONSEINFO><FIRMUPDATEINFO>` + fields + `</FIRMUPDATEINFO></RESPONSEINFO>`
}

func TestNegotiateUpToDateStopsAfterFirstVariant(t *testing.T) {
	api := &updateAPI{answers: []string{response(`<VERSIONCHECK>1</VERSIONCHECK>`)}}
	c, logs := newTestClient(t, api)

	res, err := c.Negotiate(context.Background(), testIdentity, "MAIN", inventory.Linux)
	require.NoError(t, err)
	assert.Equal(t, UpToDate, res.Outcome)
	assert.Equal(t, "canonical", res.Variant)
	assert.Len(t, api.bodies, 1)
	assert.Equal(t, 1, logs.FilterField(zap.String("outcome", "success")).Len())
}

func TestNegotiateUpdateAvailable(t *testing.T) {
	api := &updateAPI{answers: []string{response(
		`<VERSIONCHECK>0</VERSIONCHECK><LATESTVERSION>1.2.3</LATESTVERSION><FIRMID>MAIN</FIRMID><PATH>http://x/f.djf</PATH>`,
	)}}
	c, logs := newTestClient(t, api)

	res, err := c.Negotiate(context.Background(), testIdentity, "MAIN", inventory.Windows)
	require.NoError(t, err)
	assert.Equal(t, UpdateAvailable, res.Outcome)
	assert.Equal(t, "1.2.3", res.Version)
	assert.Equal(t, "http://x/f.djf", res.DownloadURL)
	assert.True(t, res.HasUpdate())
	assert.Zero(t, logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestNegotiateAnsweredForOtherComponentWarns(t *testing.T) {
	api := &updateAPI{answers: []string{response(
		`<VERSIONCHECK>0</VERSIONCHECK><LATESTVERSION>1.2.3</LATESTVERSION><FIRMID>SUB1</FIRMID><PATH>http://x/f.djf</PATH>`,
	)}}
	c, logs := newTestClient(t, api)

	res, err := c.Negotiate(context.Background(), testIdentity, "MAIN", inventory.Windows)
	require.NoError(t, err)
	assert.Equal(t, UpdateAvailable, res.Outcome)
	assert.Equal(t, "1.2.3", res.Version)
	assert.Equal(t, "http://x/f.djf", res.DownloadURL)
	assert.Equal(t, "SUB1", res.AnsweredFor)
	warnings := logs.FilterLevelExact(zapcore.WarnLevel).All()
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "answered with firmid=SUB1")
}

func TestNegotiateUnrecognizedCode(t *testing.T) {
	api := &updateAPI{answers: []string{response(`<VERSIONCHECK>2</VERSIONCHECK>`)}}
	c, logs := newTestClient(t, api)

	res, err := c.Negotiate(context.Background(), testIdentity, "SUB1", inventory.Linux)
	require.NoError(t, err)
	assert.Equal(t, Unrecognized, res.Outcome)
	assert.Equal(t, "2", res.Code)
	assert.False(t, res.HasUpdate())
	assert.Len(t, api.bodies, 1)
	assert.Equal(t, fwerr.UnrecognizedServerCode, fwerr.KindOf(res.Caveat()))
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestNegotiateExhausted(t *testing.T) {
	api := &updateAPI{answers: []string{response(`<LATESTVERSION>1.2.3</LATESTVERSION>`)}}
	c, _ := newTestClient(t, api)

	_, err := c.Negotiate(context.Background(), testIdentity, "MAIN", inventory.Linux)
	require.Error(t, err)
	assert.Equal(t, fwerr.NegotiationExhausted, fwerr.KindOf(err))
	attempts := AttemptErrors(err)
	require.Len(t, attempts, 3)
	assert.Contains(t, attempts[0].Error(), "variant canonical")
	assert.Contains(t, attempts[1].Error(), "variant ews-no-serial")
	assert.Contains(t, attempts[2].Error(), "variant ews-misspelled-serial")
	assert.Len(t, api.bodies, 3)
	assert.Contains(t, err.Error(), "component MAIN")
}

func TestNegotiateFallsBackToNextVariant(t *testing.T) {
	api := &updateAPI{answers: []string{
		response(`<VERSIONCHECK>7</VERSIONCHECK>`),
		response(`<VERSIONCHECK>1</VERSIONCHECK><VERSIONCHECK>1</VERSIONCHECK>`),
		response(`<VERSIONCHECK>0</VERSIONCHECK><LATESTVERSION>2.0</LATESTVERSION><FIRMID>MAIN</FIRMID><PATH>https://dl/f.djf</PATH>`),
	}}
	c, _ := newTestClient(t, api)

	res, err := c.Negotiate(context.Background(), testIdentity, "MAIN", inventory.Mac)
	require.NoError(t, err)
	assert.Equal(t, "ews-misspelled-serial", res.Variant)
	assert.Equal(t, "2.0", res.Version)
	require.Len(t, api.bodies, 3)

	assert.Contains(t, api.bodies[0], "<SERIALNO>E01234A5J678901</SERIALNO>")
	assert.Contains(t, api.bodies[0], "<DRIVER></DRIVER>")
	for _, body := range api.bodies[1:] {
		assert.NotContains(t, body, "<SERIALNO>")
		assert.Contains(t, body, "<SELIALNO></SELIALNO>")
		assert.Contains(t, body, "<DRIVER>EWS</DRIVER>")
	}
	assert.Equal(t, api.bodies[1], api.bodies[2])
}

func TestNegotiateHTTPErrorAbortsImmediately(t *testing.T) {
	api := &updateAPI{status: http.StatusInternalServerError}
	c, _ := newTestClient(t, api)

	_, err := c.Negotiate(context.Background(), testIdentity, "MAIN", inventory.Linux)
	require.Error(t, err)
	assert.Equal(t, fwerr.TransportError, fwerr.KindOf(err))
	assert.Len(t, api.bodies, 1)
	assert.Contains(t, err.Error(), "variant canonical")
}

func TestNegotiateConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	c := NewClient(nil, WithEndpoint(url))

	_, err := c.Negotiate(context.Background(), testIdentity, "MAIN", inventory.Linux)
	assert.Equal(t, fwerr.TransportError, fwerr.KindOf(err))
}

func TestRequestDocumentListsAllComponents(t *testing.T) {
	body, err := NewRequest(testIdentity, "SUB1", inventory.Linux).Marshal()
	require.NoError(t, err)
	doc := string(body)
	for _, want := range []string{
		"<FIRMCATEGORY>SUB1</FIRMCATEGORY>",
		"<OS>LINUX</OS>",
		"<INSPECTMODE>1</INSPECTMODE>",
		"<NAME>MFC-9332CDW</NAME>",
		"<SPEC>0403</SPEC>",
		"<ID>MAIN</ID>",
		"<VERSION>R2311081154:E7E5</VERSION>",
		"<ID>SUB1</ID>",
		"<VERSION>1.05</VERSION>",
		"<DRIVERCNT>1</DRIVERCNT>",
		"<LOGNO>2</LOGNO>",
		"<NEEDRESPONSE>1</NEEDRESPONSE>",
	} {
		assert.Contains(t, doc, want)
	}
	assert.Less(t, strings.Index(doc, "<SERIALNO>"), strings.Index(doc, "<NAME>"))
}

func TestVariantsDoNotAlias(t *testing.T) {
	base := NewRequest(testIdentity, "MAIN", inventory.Linux)
	for _, v := range Variants() {
		derived := v.Apply(base)
		derived.Components[0].Version = "changed"
	}
	assert.Equal(t, "R2311081154:E7E5", base.Components[0].Version)
	assert.Equal(t, "R2311081154:E7E5", testIdentity.Components[0].Version)
	assert.Equal(t, "E01234A5J678901", base.SerialNumber)
	assert.Equal(t, SerialNo, base.SerialField)
}

func TestVariantOrder(t *testing.T) {
	var names []string
	for _, v := range Variants() {
		names = append(names, v.Name)
	}
	assert.Equal(t, []string{"canonical", "ews-no-serial", "ews-misspelled-serial"}, names)
}

func TestParseResponseDoc(t *testing.T) {
	doc, err := parseResponseDoc([]byte(response(`<VERSIONCHECK> 0 </VERSIONCHECK><PATH>a</PATH><PATH>b</PATH>`)))
	require.NoError(t, err)
	v, err := doc.one("VERSIONCHECK")
	require.NoError(t, err)
	assert.Equal(t, "0", v)
	_, err = doc.one("PATH")
	assert.ErrorContains(t, err, "only one tag PATH")
	_, err = doc.one("FIRMID")
	assert.ErrorContains(t, err, "expected tag FIRMID")

	_, err = parseResponseDoc([]byte("not xml at all"))
	assert.Error(t, err)
	_, err = parseResponseDoc(nil)
	assert.Error(t, err)
}
