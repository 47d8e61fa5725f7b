// Package geocode resolves intake addresses through an HTTP search service
// speaking the Nominatim JSON format.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aeternum-health/dispatch/auth"
	coregeo "github.com/aeternum-health/dispatch/core/geocode"
	"github.com/aeternum-health/dispatch/core/model"
)

// Config selects the geocoding sources. Static entries are tried before the
// remote service.
type Config struct {
	URL            string                       `json:"url"`
	TimeoutSeconds int                          `json:"timeout_seconds"`
	CountryCodes   string                       `json:"country_codes"`
	Auth           auth.Conf                    `json:"auth"`
	Static         map[string]model.Coordinates `json:"static"`
}

func (c Config) timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Validate checks the remote settings.
func (c Config) Validate() error {
	if c.URL != "" {
		if _, err := url.ParseRequestURI(c.URL); err != nil {
			return fmt.Errorf("geocoder: invalid url: %w", err)
		}
	}
	return c.Auth.Validate()
}

// New builds the geocoder for cfg, or nil when nothing is configured.
func New(cfg Config) coregeo.Geocoder {
	var chain coregeo.Chain
	if len(cfg.Static) > 0 {
		chain = append(chain, coregeo.NewStatic(cfg.Static))
	}
	if cfg.URL != "" {
		chain = append(chain, NewHTTPGeocoder(cfg))
	}
	switch len(chain) {
	case 0:
		return nil
	case 1:
		return chain[0]
	}
	return chain
}

// HTTPGeocoder queries a search endpoint: GET <url>?q=<address>&format=json.
type HTTPGeocoder struct {
	base      string
	countries string
	client    *http.Client
	creds     *auth.ClientCred
}

func NewHTTPGeocoder(cfg Config) *HTTPGeocoder {
	g := &HTTPGeocoder{
		base:      cfg.URL,
		countries: cfg.CountryCodes,
		client:    &http.Client{Timeout: cfg.timeout()},
	}
	if cfg.Auth.Enabled() {
		g.creds = auth.NewClientCred(cfg.Auth)
	}
	return g
}

type place struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

func (g *HTTPGeocoder) Geocode(ctx context.Context, address string) (model.Coordinates, error) {
	u, err := url.Parse(g.base)
	if err != nil {
		return model.Coordinates{}, err
	}
	q := u.Query()
	q.Set("q", address)
	q.Set("format", "json")
	q.Set("limit", "1")
	if g.countries != "" {
		q.Set("countrycodes", g.countries)
	}
	u.RawQuery = q.Encode()

	resp, err := g.do(ctx, u.String())
	if err != nil {
		return model.Coordinates{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return model.Coordinates{}, fmt.Errorf("geocoder returned status %d", resp.StatusCode)
	}
	var places []place
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return model.Coordinates{}, fmt.Errorf("decode geocoder response: %w", err)
	}
	if len(places) == 0 {
		return model.Coordinates{}, fmt.Errorf("%q: %w", address, coregeo.ErrUnresolved)
	}
	lat, err := strconv.ParseFloat(places[0].Lat, 64)
	if err != nil {
		return model.Coordinates{}, fmt.Errorf("bad latitude %q: %w", places[0].Lat, err)
	}
	lng, err := strconv.ParseFloat(places[0].Lon, 64)
	if err != nil {
		return model.Coordinates{}, fmt.Errorf("bad longitude %q: %w", places[0].Lon, err)
	}
	return model.Coordinates{Lat: lat, Lng: lng}, nil
}

// do sends the request, retrying once with a fresh token on 401.
func (g *HTTPGeocoder) do(ctx context.Context, target string) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if g.creds != nil {
			if err := g.creds.SetAuthHeader(req); err != nil {
				return nil, err
			}
		}
		resp, err := g.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("geocoder request: %w", err)
		}
		if resp.StatusCode == http.StatusUnauthorized && g.creds != nil && attempt == 0 {
			resp.Body.Close()
			g.creds.Invalidate()
			continue
		}
		return resp, nil
	}
}
