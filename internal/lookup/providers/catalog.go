package providers

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"osint/internal/lookup/models"
)

// Catalog is the on-disk provider list.
//
//	providers:
//	  - id: truecaller
//	    url: https://api.example.com/search?q={value}
//	    query_types: [phone]
//	    timeout: 45s
//	    headers:
//	      Authorization: Bearer ${TRUECALLER_TOKEN}
type Catalog struct {
	Providers []CatalogEntry `yaml:"providers"`
}

type CatalogEntry struct {
	ID         string            `yaml:"id"`
	URL        string            `yaml:"url"`
	Method     string            `yaml:"method"`
	QueryTypes []string          `yaml:"query_types"`
	Timeout    string            `yaml:"timeout"`
	Headers    map[string]string `yaml:"headers"`
	HealthURL  string            `yaml:"health_url"`
	Disabled   bool              `yaml:"disabled"`
}

// LoadCatalog reads and parses a catalog file. Header values and URLs have
// ${VAR} references expanded from the environment.
func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read provider catalog: %w", err)
	}
	return ParseCatalog(raw)
}

func ParseCatalog(raw []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse provider catalog: %w", err)
	}
	return &c, nil
}

// HTTPConfigs converts enabled entries into adapter configs.
func (c *Catalog) HTTPConfigs() ([]HTTPConfig, error) {
	out := make([]HTTPConfig, 0, len(c.Providers))
	for _, e := range c.Providers {
		if e.Disabled {
			continue
		}
		cfg := HTTPConfig{
			ID:        e.ID,
			URL:       os.ExpandEnv(e.URL),
			Method:    strings.ToUpper(e.Method),
			HealthURL: os.ExpandEnv(e.HealthURL),
			Headers:   make(map[string]string, len(e.Headers)),
		}
		for k, v := range e.Headers {
			cfg.Headers[k] = os.ExpandEnv(v)
		}
		for _, qt := range e.QueryTypes {
			t, err := models.ParseQueryType(qt)
			if err != nil {
				return nil, fmt.Errorf("provider %s: %w", e.ID, err)
			}
			cfg.QueryTypes = append(cfg.QueryTypes, t)
		}
		if e.Timeout != "" {
			d, err := time.ParseDuration(e.Timeout)
			if err != nil {
				return nil, fmt.Errorf("provider %s: invalid timeout %q: %w", e.ID, e.Timeout, err)
			}
			cfg.Timeout = d
		}
		out = append(out, cfg)
	}
	return out, nil
}

// BuildRegistry registers an HTTPAdapter per enabled catalog entry, all sharing client.
func BuildRegistry(c *Catalog, client *http.Client) (*Registry, error) {
	cfgs, err := c.HTTPConfigs()
	if err != nil {
		return nil, err
	}
	reg := NewRegistry()
	for _, cfg := range cfgs {
		a, err := NewHTTPAdapter(cfg, client)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(a); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
