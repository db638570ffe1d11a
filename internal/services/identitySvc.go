package services

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/amineamaach/edgeTranslator-SpB/internal/config"
	"github.com/pkg/errors"
)

// Principal is this node's identity as the directory knows it.
type Principal struct {
	UUID      string           `json:"uuid"`
	Sparkplug config.Sparkplug `json:"sparkplug"`
}

// Valid reports whether the directory returned a usable identity.
func (p *Principal) Valid() bool {
	return p != nil && p.UUID != "" && p.Sparkplug.GroupId != "" && p.Sparkplug.EdgeNode != ""
}

// IdentityProvider is the consumed identity service: resolves who this node
// is. A nil principal means "not provisioned yet, ask again".
type IdentityProvider interface {
	FindPrincipal() (*Principal, error)
}

// HTTPIdentity resolves the principal over the directory's REST API.
type HTTPIdentity struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPIdentity(baseURL string) *HTTPIdentity {
	return &HTTPIdentity{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (h *HTTPIdentity) FindPrincipal() (*Principal, error) {
	resp, err := h.Client.Get(h.BaseURL + "/v1/principal")
	if err != nil {
		return nil, errors.Wrap(err, "identity request")
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("identity service: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "identity response")
	}
	var principal Principal
	if err := json.Unmarshal(body, &principal); err != nil {
		return nil, errors.Wrap(err, "identity response")
	}
	return &principal, nil
}
