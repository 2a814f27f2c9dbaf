package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"tutorhub/signaling/models"
	"tutorhub/signaling/utils"
)

// DefaultICEServers is the public rendezvous list used when neither the
// provider nor a fallback file is available.
var DefaultICEServers = []models.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
	{URLs: []string{"stun:stun1.l.google.com:19302"}},
}

type iceFile struct {
	ICEServers []models.ICEServer `toml:"ice_servers"`
}

// LoadICEServers reads the static fallback list from a TOML file of
// [[ice_servers]] tables. An empty path yields DefaultICEServers.
func LoadICEServers(path string) ([]models.ICEServer, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultICEServers, nil
	}

	var raw iceFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("load ice servers: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("load ice servers: unknown keys %v", undecoded)
	}

	var out []models.ICEServer
	for _, s := range raw.ICEServers {
		if len(s.URLs) == 0 {
			continue
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return DefaultICEServers, nil
	}
	return out, nil
}

// TraversalProvider fetches short-lived TURN credentials on each request.
// Results are never cached; every failure falls back to the static list.
type TraversalProvider struct {
	endpoint string
	apiKey   string
	client   *http.Client
	fallback []models.ICEServer
	logger   *utils.Logger
}

func NewTraversalProvider(endpoint, apiKey string, timeout time.Duration, fallback []models.ICEServer, logger *utils.Logger) *TraversalProvider {
	if len(fallback) == 0 {
		fallback = DefaultICEServers
	}
	return &TraversalProvider{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
		fallback: fallback,
		logger:   logger,
	}
}

// ICEServers returns the servers for userID and whether the fallback list was used.
func (p *TraversalProvider) ICEServers(ctx context.Context, userID string) ([]models.ICEServer, bool) {
	if p.endpoint == "" {
		return p.fallback, true
	}

	servers, err := p.fetch(ctx, userID)
	if err != nil {
		p.logger.Warn("Traversal provider unavailable, using fallback", "user_id", userID, "error", err)
		return p.fallback, true
	}
	return servers, false
}

func (p *TraversalProvider) fetch(ctx context.Context, userID string) ([]models.ICEServer, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse provider url: %w", err)
	}
	q := u.Query()
	q.Set("user", userID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("provider returned %s", resp.Status)
	}

	var body struct {
		ICEServers []models.ICEServer `json:"iceServers"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}
	if len(body.ICEServers) == 0 {
		return nil, errors.New("provider returned no servers")
	}
	return body.ICEServers, nil
}
