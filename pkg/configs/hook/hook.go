// Package hook reads the webhook configuration.
//
//	retraining:
//	  before:
//	    - https://hooks.example.com/retraining/started
//	  after:
//	    - https://hooks.example.com/retraining/finished
package hook

import (
	"fmt"
	"net/url"
	"os"

	domerr "github.com/opst/mlserve/pkg/domain/errors"
	xe "github.com/opst/mlserve/pkg/errors"
	"gopkg.in/yaml.v3"
)

func Load(filename string) (Config, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, xe.Wrap(err)
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %s: %w", domerr.ErrInvalidConfig, filename, err)
	}
	return cfg, nil
}

type Config struct {
	// called around each retraining cycle.
	Retraining WebHook `yaml:"retraining,omitempty"`
}

type WebHook struct {
	Before []*url.URL
	After  []*url.URL
}

func (wh *WebHook) UnmarshalYAML(node *yaml.Node) error {
	raw := struct {
		Before []string `yaml:"before"`
		After  []string `yaml:"after"`
	}{}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	before, err := parseURLs(raw.Before)
	if err != nil {
		return err
	}
	after, err := parseURLs(raw.After)
	if err != nil {
		return err
	}
	wh.Before, wh.After = before, after
	return nil
}

func parseURLs(us []string) ([]*url.URL, error) {
	parsed := make([]*url.URL, 0, len(us))
	for _, u := range us {
		p, err := url.Parse(u)
		if err != nil {
			return nil, err
		}
		if p.Scheme != "http" && p.Scheme != "https" {
			return nil, fmt.Errorf("webhook should be http(s): %s", u)
		}
		parsed = append(parsed, p)
	}
	return parsed, nil
}
