package identity

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/crewjam/saml"

	"github.com/and161185/portal-auth/internal/model"
)

var (
	ErrSAMLConfig  = errors.New("saml: incomplete configuration")
	ErrSAMLProfile = errors.New("saml: assertion has no email")
)

// SAMLConfig describes the identity provider and the portal as service provider.
type SAMLConfig struct {
	EntryPoint  string // IdP single sign-on URL
	IDPEntityID string // defaults to EntryPoint
	Issuer      string // our entity id
	CallbackURL string // assertion consumer service
	Cert        string // IdP signing certificate, PEM or bare base64
	SuccessPath string
	FailurePath string
}

// Profile is the subset of assertion attributes the portal reads.
type Profile struct {
	Email     string
	FirstName string
	LastName  string
}

// AuthenticateOptions are the redirects attached to an SSO round trip.
type AuthenticateOptions struct {
	FailureRedirect string
	RelayState      string
}

// SAMLProvider drives SP-initiated logins against a single IdP.
type SAMLProvider struct {
	cfg SAMLConfig
	sp  *saml.ServiceProvider
}

func NewSAMLProvider(cfg SAMLConfig) (*SAMLProvider, error) {
	if cfg.EntryPoint == "" || cfg.Issuer == "" || cfg.CallbackURL == "" || cfg.Cert == "" {
		return nil, ErrSAMLConfig
	}
	acs, err := url.Parse(cfg.CallbackURL)
	if err != nil {
		return nil, fmt.Errorf("saml callback url: %w", err)
	}
	certData, err := normalizeCert(cfg.Cert)
	if err != nil {
		return nil, err
	}
	idpID := cfg.IDPEntityID
	if idpID == "" {
		idpID = cfg.EntryPoint
	}

	force := true
	sp := &saml.ServiceProvider{
		EntityID:          cfg.Issuer,
		AcsURL:            *acs,
		ForceAuthn:        &force,
		AllowIDPInitiated: true,
		IDPMetadata: &saml.EntityDescriptor{
			EntityID: idpID,
			IDPSSODescriptors: []saml.IDPSSODescriptor{{
				SSODescriptor: saml.SSODescriptor{
					RoleDescriptor: saml.RoleDescriptor{
						KeyDescriptors: []saml.KeyDescriptor{{
							Use: "signing",
							KeyInfo: saml.KeyInfo{X509Data: saml.X509Data{
								X509Certificates: []saml.X509Certificate{{Data: certData}},
							}},
						}},
					},
				},
				SingleSignOnServices: []saml.Endpoint{{
					Binding:  saml.HTTPRedirectBinding,
					Location: cfg.EntryPoint,
				}},
			}},
		},
	}
	return &SAMLProvider{cfg: cfg, sp: sp}, nil
}

// normalizeCert returns the base64 DER body of a certificate and checks it parses.
func normalizeCert(s string) (string, error) {
	s = strings.TrimSpace(s)
	if block, _ := pem.Decode([]byte(s)); block != nil {
		s = base64.StdEncoding.EncodeToString(block.Bytes)
	} else {
		s = strings.Join(strings.Fields(s), "")
	}
	der, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("saml cert: %w", err)
	}
	if _, err := x509.ParseCertificate(der); err != nil {
		return "", fmt.Errorf("saml cert: %w", err)
	}
	return s, nil
}

// Validate maps a profile to a login claim.
func (p *SAMLProvider) Validate(profile Profile) *model.Claim {
	return &model.Claim{
		Email: profile.Email,
		Name:  profile.FirstName + " " + profile.LastName,
	}
}

// AuthenticateOptions namespaces the redirects under origin. Empty origin yields no options.
func (p *SAMLProvider) AuthenticateOptions(origin string) AuthenticateOptions {
	if origin == "" {
		return AuthenticateOptions{}
	}
	return AuthenticateOptions{
		FailureRedirect: origin + "/" + p.cfg.FailurePath,
		RelayState:      origin + "/" + p.cfg.SuccessPath,
	}
}

// FailureRedirect recovers the failure redirect from a RelayState built by
// AuthenticateOptions. It returns "" for foreign relay states.
func (p *SAMLProvider) FailureRedirect(relayState string) string {
	origin, ok := strings.CutSuffix(relayState, "/"+p.cfg.SuccessPath)
	if !ok || origin == "" {
		return ""
	}
	return p.AuthenticateOptions(origin).FailureRedirect
}

// LoginURL returns the HTTP-Redirect binding URL of a fresh AuthnRequest.
func (p *SAMLProvider) LoginURL(relayState string) (string, error) {
	u, err := p.sp.MakeRedirectAuthenticationRequest(relayState)
	if err != nil {
		return "", fmt.Errorf("saml authn request: %w", err)
	}
	return u.String(), nil
}

// ParseResponse validates the posted SAMLResponse and extracts the profile.
func (p *SAMLProvider) ParseResponse(r *http.Request) (*Profile, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("saml form: %w", err)
	}
	assertion, err := p.sp.ParseResponse(r, nil)
	if err != nil {
		var ire *saml.InvalidResponseError
		if errors.As(err, &ire) && ire.PrivateErr != nil {
			return nil, fmt.Errorf("saml response: %w", ire.PrivateErr)
		}
		return nil, fmt.Errorf("saml response: %w", err)
	}
	return profileFromAssertion(assertion)
}

func profileFromAssertion(a *saml.Assertion) (*Profile, error) {
	prof := &Profile{}
	for _, st := range a.AttributeStatements {
		for _, attr := range st.Attributes {
			if len(attr.Values) == 0 {
				continue
			}
			v := attr.Values[0].Value
			switch attrName(attr) {
			case "email":
				prof.Email = v
			case "firstName":
				prof.FirstName = v
			case "lastName":
				prof.LastName = v
			}
		}
	}
	if prof.Email == "" && a.Subject != nil && a.Subject.NameID != nil {
		prof.Email = a.Subject.NameID.Value
	}
	if prof.Email == "" {
		return nil, ErrSAMLProfile
	}
	return prof, nil
}

func attrName(a saml.Attribute) string {
	if a.FriendlyName != "" {
		return a.FriendlyName
	}
	return a.Name
}
