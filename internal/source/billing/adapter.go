package billing

import (
	"fmt"
	"time"

	"github.com/faciam-dev/cssync/internal/registry"
	"github.com/faciam-dev/cssync/internal/source"
)

// Settings is the non-secret part of a billing source configuration.
type Settings struct {
	Site              string  `json:"site"`
	BaseURL           string  `json:"base_url,omitempty"`
	PageSize          int     `json:"page_size,omitempty"`
	MaxPages          int     `json:"max_pages,omitempty"`
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"`
	TimeoutSeconds    int     `json:"timeout_seconds,omitempty"`
	UseSince          bool    `json:"use_since,omitempty"`
}

// Credentials is the decrypted credential document.
type Credentials struct {
	APIKey string `mapstructure:"api_key"`
}

func init() {
	source.Register(registry.KindBilling, newAdapter)
}

func newAdapter(cfg source.Config) (source.Adapter, error) {
	var st Settings
	if err := cfg.DecodeSettings(&st); err != nil {
		return nil, err
	}
	var cr Credentials
	if err := cfg.DecodeCredentials(&cr); err != nil {
		return nil, err
	}
	if cr.APIKey == "" {
		return nil, fmt.Errorf("billing: api_key missing")
	}
	base := st.BaseURL
	if base == "" {
		if st.Site == "" {
			return nil, fmt.Errorf("billing: site or base_url required")
		}
		base = BaseURL(st.Site)
	}
	opts := []Option{
		WithLogger(cfg.Logger),
		WithPageSize(st.PageSize),
		WithMaxPages(st.MaxPages),
		WithSinceFilter(st.UseSince),
	}
	if st.RequestsPerSecond > 0 {
		opts = append(opts, WithRateLimit(st.RequestsPerSecond, int(st.RequestsPerSecond)+1))
	}
	if st.TimeoutSeconds > 0 {
		opts = append(opts, WithTimeout(time.Duration(st.TimeoutSeconds)*time.Second))
	}
	return New(base, cr.APIKey, opts...), nil
}
