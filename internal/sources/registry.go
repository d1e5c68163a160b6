package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"comfygit/pkg/cgerr"
	"comfygit/pkg/models"
)

// DefaultRegistryURL is the public custom-node registry endpoint.
const DefaultRegistryURL = "https://api.comfy.org"

// RegistryPackage is the registry's record for one installable node package.
type RegistryPackage struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Repository    string `json:"repository"`
	LatestVersion string `json:"latest_version"`
	DownloadURL   string `json:"download_url"`
}

// Registry resolves package ids and serves the node-class mapping table.
// Implementations must be replaceable for tests.
type Registry interface {
	GetPackage(ctx context.Context, packageID string) (*RegistryPackage, error)
	// NodeMappings returns the node class → candidate package table.
	NodeMappings(ctx context.Context) ([]models.NodeMapping, error)
}

// HTTPRegistry is the resty-backed registry client with a JSON file cache.
type HTTPRegistry struct {
	client *resty.Client
	cache  *APICache
}

// NewHTTPRegistry builds the registry client. cacheDir may be empty to
// disable caching.
func NewHTTPRegistry(baseURL, cacheDir string, timeout time.Duration) *HTTPRegistry {
	if baseURL == "" {
		baseURL = DefaultRegistryURL
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	var cache *APICache
	if cacheDir != "" {
		cache = NewAPICache(cacheDir, 24*time.Hour)
	}
	return &HTTPRegistry{client: client, cache: cache}
}

func (r *HTTPRegistry) GetPackage(ctx context.Context, packageID string) (*RegistryPackage, error) {
	cacheKey := "registry-package-" + packageID

	var pkg RegistryPackage
	if r.cache != nil && r.cache.Get(cacheKey, &pkg) {
		return &pkg, nil
	}

	resp, err := r.client.R().
		SetContext(ctx).
		SetResult(&pkg).
		Get("/nodes/" + packageID)
	if err != nil {
		return nil, cgerr.New(cgerr.KindExternal, "registry lookup", "check network connectivity and retry", err)
	}
	if resp.StatusCode() == 404 {
		return nil, cgerr.New(cgerr.KindUser, fmt.Sprintf("package %q not found in registry", packageID),
			"check the package id, or install from a git URL", nil)
	}
	if resp.IsError() {
		return nil, cgerr.New(cgerr.KindExternal, fmt.Sprintf("registry returned %s", resp.Status()), "retry later", nil)
	}

	if r.cache != nil {
		r.cache.Put(cacheKey, &pkg)
	}
	return &pkg, nil
}

type nodeMappingResponse struct {
	Mappings map[string][]string `json:"mappings"`
}

func (r *HTTPRegistry) NodeMappings(ctx context.Context) ([]models.NodeMapping, error) {
	cacheKey := "registry-node-mappings"

	var payload nodeMappingResponse
	if r.cache == nil || !r.cache.Get(cacheKey, &payload) {
		resp, err := r.client.R().
			SetContext(ctx).
			SetResult(&payload).
			Get("/node-mappings")
		if err != nil {
			return nil, cgerr.New(cgerr.KindExternal, "node mapping fetch", "check network connectivity and retry", err)
		}
		if resp.IsError() {
			return nil, cgerr.New(cgerr.KindExternal, fmt.Sprintf("registry returned %s", resp.Status()), "retry later", nil)
		}
		if r.cache != nil {
			r.cache.Put(cacheKey, &payload)
		}
	}

	out := make([]models.NodeMapping, 0, len(payload.Mappings))
	for nodeType, ids := range payload.Mappings {
		out = append(out, models.NodeMapping{NodeType: nodeType, PackageIDs: ids})
	}
	return out, nil
}
