package services

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/amineamaach/edgeTranslator-SpB/internal/config"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// EdgeAgentAppUUID identifies the edge-agent application in the config
// service.
var EdgeAgentAppUUID = uuid.MustParse("aac6f843-cfee-4683-b121-6943bfdf9173")

// ConfigSource is the consumed config service. A nil document means "no
// config published for this node yet, ask again".
type ConfigSource interface {
	GetConfig(applicationUUID, nodeUUID uuid.UUID) (*config.Document, error)
}

// HTTPConfigSource fetches the edge-agent configuration over REST.
type HTTPConfigSource struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPConfigSource(baseURL string) *HTTPConfigSource {
	return &HTTPConfigSource{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (h *HTTPConfigSource) GetConfig(applicationUUID, nodeUUID uuid.UUID) (*config.Document, error) {
	url := h.BaseURL + "/v1/app/" + applicationUUID.String() + "/object/" + nodeUUID.String()
	resp, err := h.Client.Get(url)
	if err != nil {
		return nil, errors.Wrap(err, "config request")
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("config service: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "config response")
	}
	var doc config.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, errors.Wrap(err, "config response")
	}
	return &doc, nil
}
