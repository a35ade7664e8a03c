package identity

import (
	"bytes"
	"compress/flate"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/crewjam/saml"
	"github.com/stretchr/testify/require"
)

func testCertPEM(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "idp.test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

func newSAML(t *testing.T) *SAMLProvider {
	t.Helper()
	p, err := NewSAMLProvider(SAMLConfig{
		EntryPoint:  "https://idp.test/sso",
		Issuer:      "portal-auth",
		CallbackURL: "https://portal.test/auth/saml/verify",
		Cert:        testCertPEM(t),
		SuccessPath: "login/success",
		FailurePath: "login/failure",
	})
	require.NoError(t, err)
	return p
}

func TestNewSAMLProvider_Config(t *testing.T) {
	t.Parallel()

	_, err := NewSAMLProvider(SAMLConfig{})
	require.ErrorIs(t, err, ErrSAMLConfig)

	_, err = NewSAMLProvider(SAMLConfig{
		EntryPoint: "https://idp.test/sso", Issuer: "x", CallbackURL: "https://p/acs", Cert: "not a cert",
	})
	require.Error(t, err)

	// bare base64 body is accepted as well as PEM
	pemCert := testCertPEM(t)
	block, _ := pem.Decode([]byte(pemCert))
	_, err = NewSAMLProvider(SAMLConfig{
		EntryPoint: "https://idp.test/sso", Issuer: "x", CallbackURL: "https://p/acs",
		Cert: base64.StdEncoding.EncodeToString(block.Bytes),
	})
	require.NoError(t, err)
}

func TestSAMLProvider_Validate(t *testing.T) {
	t.Parallel()

	c := newSAML(t).Validate(Profile{Email: "a@test.com", FirstName: "Ann", LastName: "Example"})
	require.Equal(t, "a@test.com", c.Email)
	require.Equal(t, "Ann Example", c.Name)
	require.Empty(t, c.Avatar)
}

func TestSAMLProvider_AuthenticateOptions(t *testing.T) {
	t.Parallel()

	p := newSAML(t)
	require.Equal(t, AuthenticateOptions{}, p.AuthenticateOptions(""))
	require.Equal(t, AuthenticateOptions{
		FailureRedirect: "https://app.test/login/failure",
		RelayState:      "https://app.test/login/success",
	}, p.AuthenticateOptions("https://app.test"))
}

func TestSAMLProvider_FailureRedirect(t *testing.T) {
	t.Parallel()

	p := newSAML(t)
	rs := p.AuthenticateOptions("https://app.test").RelayState
	require.Equal(t, "https://app.test/login/failure", p.FailureRedirect(rs))
	require.Empty(t, p.FailureRedirect("https://app.test/elsewhere"))
	require.Empty(t, p.FailureRedirect(""))
}

func TestSAMLProvider_LoginURL(t *testing.T) {
	t.Parallel()

	raw, err := newSAML(t).LoginURL("https://app.test/login/success")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "idp.test", u.Host)
	require.Equal(t, "/sso", u.Path)
	require.Equal(t, "https://app.test/login/success", u.Query().Get("RelayState"))

	compressed, err := base64.StdEncoding.DecodeString(u.Query().Get("SAMLRequest"))
	require.NoError(t, err)
	xml, err := io.ReadAll(flate.NewReader(bytes.NewReader(compressed)))
	require.NoError(t, err)
	require.Contains(t, string(xml), `ForceAuthn="true"`)
	require.Contains(t, string(xml), "portal-auth")
}

func TestSAMLProvider_ParseResponseRejectsGarbage(t *testing.T) {
	t.Parallel()

	p := newSAML(t)
	for _, body := range []string{"", "SAMLResponse=bm90LXhtbA%3D%3D"} {
		req := httptest.NewRequest(http.MethodPost, "https://portal.test/auth/saml/verify", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		_, err := p.ParseResponse(req)
		require.Error(t, err)
	}
}

func TestProfileFromAssertion(t *testing.T) {
	t.Parallel()

	a := &saml.Assertion{
		AttributeStatements: []saml.AttributeStatement{{Attributes: []saml.Attribute{
			{Name: "email", Values: []saml.AttributeValue{{Value: "a@test.com"}}},
			{Name: "urn:oid:2.5.4.42", FriendlyName: "firstName", Values: []saml.AttributeValue{{Value: "Ann"}}},
			{Name: "lastName", Values: []saml.AttributeValue{{Value: "Example"}}},
			{Name: "empty"},
		}}},
	}
	prof, err := profileFromAssertion(a)
	require.NoError(t, err)
	require.Equal(t, Profile{Email: "a@test.com", FirstName: "Ann", LastName: "Example"}, *prof)

	prof, err = profileFromAssertion(&saml.Assertion{Subject: &saml.Subject{NameID: &saml.NameID{Value: "n@test.com"}}})
	require.NoError(t, err)
	require.Equal(t, "n@test.com", prof.Email)

	_, err = profileFromAssertion(&saml.Assertion{})
	require.ErrorIs(t, err, ErrSAMLProfile)
}
