package reportconfig

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/extraction-cli/internal/observability"
)

const sampleConfig = `{
  "3-responsabilite": {"images": ["img/resp.png", "img/ok.png"], "action": "perform_select_responsabilite"},
  "1-login": {"images": ["img/connect.png", "img/apps.png", "img/user.png"], "action": "perform_login",
              "_meta": {"login_success_image": "img/home.png"}},
  "2-password_check": {"images": ["img/expired.png", "img/error.png"], "action": "perform_check_password_expired"},
  "_meta": {"password_expired_image": "img/expired_dialog.png"},
  "4-periode": {"images": ["img/periode.png"], "action": "perform_select_periode", "date_format": "%b-%Y"}
}`

func TestParseKeepsDocumentOrder(t *testing.T) {
	r, err := Parse("duk008", []byte(sampleConfig))
	require.NoError(t, err)

	var names []string
	for _, s := range r.Steps {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"3-responsabilite", "1-login", "2-password_check", "4-periode"}, names)
	assert.Equal(t, KindSelectResponsabilite, r.Steps[0].Kind)
	assert.Equal(t, "%b-%Y", r.Steps[3].DateFormat)

	assert.Equal(t, "img/home.png", r.Meta.LoginSuccessImage)
	assert.Equal(t, "img/expired_dialog.png", r.Meta.PasswordExpiredImage)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"not an object", `["a"]`, ErrInvalidConfig},
		{"broken json", `{"a": `, ErrInvalidConfig},
		{"unknown action", `{"a": {"images": [], "action": "perform_dance"}}`, ErrUnknownAction},
		{"bad images", `{"a": {"images": "x.png", "action": "perform_wait"}}`, ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("r", []byte(tt.data))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestReportLookups(t *testing.T) {
	r, err := Parse("duk008", []byte(sampleConfig))
	require.NoError(t, err)

	login, idx, ok := r.LoginStep()
	require.True(t, ok)
	assert.Equal(t, 1, idx)
	assert.Equal(t, "1-login", login.Name)

	check, ok := r.ExpiryCheckStep()
	require.True(t, ok)
	assert.Equal(t, []string{"img/expired.png", "img/error.png"}, check.Images)


	cleaned := r.WithoutLoginSteps()
	require.Len(t, cleaned.Steps, 2)
	assert.Equal(t, "3-responsabilite", cleaned.Steps[0].Name)
	assert.Equal(t, "4-periode", cleaned.Steps[1].Name)
	assert.Len(t, r.Steps, 4, "original is not modified")

	img, err := login.Image(2)
	require.NoError(t, err)
	assert.Equal(t, "img/user.png", img)
	_, err = login.Image(5)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNextStepImageNeverComesFromPasswordCheck(t *testing.T) {
	r, err := Parse("duk008", []byte(sampleConfig))
	require.NoError(t, err)

	// 2-password_check directly follows 1-login, but its dialogs are not a
	// sign that the login went through.
	assert.Equal(t, "img/periode.png", r.NextStepImage())

	r, err = Parse("r", []byte(`{"login": {"images": ["a.png"], "action": "perform_login"}, "check": {"images": ["x.png"], "action": "perform_check_password_expired"}}`))
	require.NoError(t, err)
	assert.Empty(t, r.NextStepImage(), "only login-only steps follow the login")
}

func TestNextStepImageEdges(t *testing.T) {
	r, err := Parse("r", []byte(`{"login": {"images": ["a.png"], "action": "perform_login"}}`))
	require.NoError(t, err)
	assert.Empty(t, r.NextStepImage(), "login is the last step")

	r, err = Parse("r", []byte(`{"login": {"images": ["a.png"], "action": "perform_login"}, "w": {"images": [], "action": "perform_wait"}}`))
	require.NoError(t, err)
	assert.Empty(t, r.NextStepImage(), "next step has no images")

	r, err = Parse("r", []byte(`{"w": {"images": ["w.png"], "action": "perform_wait"}}`))
	require.NoError(t, err)
	assert.Empty(t, r.NextStepImage(), "no login step")
}

func TestKindRoundTrip(t *testing.T) {
	for k, name := range kindNames {
		parsed, err := ParseKind(name)
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
		assert.Equal(t, name, k.String())
	}
	assert.True(t, KindLogin.LoginOnly())
	assert.True(t, KindCheckPasswordExpired.LoginOnly())
	assert.False(t, KindExtract.LoginOnly())
}

func TestLoaderResolution(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "ALICE"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ALICE", "duk008.json"), []byte(`{"a": {"images": ["alice.png"], "action": "perform_wait"}}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "duk008.json"), []byte(`{"a": {"images": ["shared.png"], "action": "perform_wait"}}`), 0o644))

	var out bytes.Buffer
	loader := NewLoader(dir, nil, observability.NewSignalEmitter(&out))

	r, err := loader.Load("DUK008", "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice.png", r.Steps[0].Images[0])
	assert.Equal(t, filepath.Join(dir, "ALICE", "duk008.json"), r.Path)
	assert.Equal(t, "REPORT_CONFIG:"+r.Path+"\n", out.String())

	r, err = loader.Load("duk008", "bob")
	require.NoError(t, err)
	assert.Equal(t, "shared.png", r.Steps[0].Images[0], "falls back to the shared config")

	_, err = loader.Load("ic01", "alice")
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestPeriodAndFileName(t *testing.T) {
	at := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

	p, err := Period(Step{Name: "periode"}, at)
	require.NoError(t, err)
	assert.Equal(t, "MAR-24", p)

	p, err = Period(Step{Name: "periode", DateFormat: "%B %Y"}, at)
	require.NoError(t, err)
	assert.Equal(t, "MARCH 2024", p)

	assert.Equal(t, time.Date(2024, 2, 13, 10, 0, 0, 0, time.UTC), PreviousMonth(at))

	name, err := FileName("duk008", "DUK008_,.xlsx", Step{Name: "extract"}, at)
	require.NoError(t, err)
	assert.Equal(t, "duk008/DUK008_24-03-15.xlsx", name)

	_, err = FileName("duk008", "", Step{}, at)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = FileName("duk008", "no-comma", Step{}, at)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
