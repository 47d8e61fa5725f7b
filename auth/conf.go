package auth

import (
	"fmt"

	"golang.org/x/oauth2/clientcredentials"
)

// Conf holds OAuth2 client-credentials settings for outbound services such
// as the geocoding provider.
type Conf struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	TokenURL     string   `json:"token_url"`
	Scopes       []string `json:"scopes"`
}

// Enabled reports whether credentials were configured.
func (c Conf) Enabled() bool { return c.TokenURL != "" }

// Validate checks that an enabled configuration is complete.
func (c Conf) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.ClientID == "" || c.ClientSecret == "" {
		return fmt.Errorf("auth: client_id and client_secret are required with token_url")
	}
	return nil
}

func (c Conf) oauth2() clientcredentials.Config {
	return clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     c.TokenURL,
		Scopes:       c.Scopes,
	}
}
