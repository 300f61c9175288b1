package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultUserAgent is sent by every page a run opens.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Selectors locate the fields of one episode on a target page.
type Selectors struct {
	Title       string `yaml:"title,omitempty"`
	Description string `yaml:"description,omitempty"`
	Date        string `yaml:"date,omitempty"`

	// Audio is required. Its src property becomes the episode's audio URL.
	Audio string `yaml:"audio"`

	// Reveal, when set, is clicked before the audio element is read. A
	// missing reveal element makes the target's result absent.
	Reveal string `yaml:"reveal,omitempty"`
}

// Target is one page scraped per run.
type Target struct {
	// Name identifies the target in logs and metrics.
	Name string `yaml:"name"`

	// Type is copied into every episode the target produces.
	Type string `yaml:"type"`

	URL       string    `yaml:"url"`
	Selectors Selectors `yaml:"selectors"`

	NavigationTimeout time.Duration `yaml:"navigationTimeout,omitempty"`

	// SettleDelay is a fixed pause after navigation for client-side
	// rendering to finish.
	SettleDelay time.Duration `yaml:"settleDelay,omitempty"`

	// RevealDelay is a fixed pause after clicking Reveal.
	RevealDelay time.Duration `yaml:"revealDelay,omitempty"`

	// AudioWait bounds how long to wait for the audio element after a
	// reveal. Zero reads it immediately.
	AudioWait time.Duration `yaml:"audioWait,omitempty"`
}

// targetsFile is the on-disk layout of POEM_TARGETS_FILE.
type targetsFile struct {
	Targets []Target `yaml:"targets"`
}

const (
	potdSection  = `#mainContent > main > div > section.my-4.mb-7.border-t-4.border-gray-300.py-4 > div > div.col-span-full.flex.flex-col.md\:col-span-3.md\:gap-3`
	audioSection = `#mainContent > article > div.flex.flex-col.gap-5.md\:flex-row-reverse.md\:gap-8`
)

// DefaultTargets returns the Poetry Foundation targets in run order.
func DefaultTargets() []Target {
	return []Target{
		{
			Name: "potd",
			Type: "Poem of the Day",
			URL:  "https://www.poetryfoundation.org/",
			Selectors: Selectors{
				Title:       potdSection + ` > div:nth-child(1) > h3 > div > a > span`,
				Description: potdSection + ` > div.type-kappa.text-gray-600`,
				Audio:       potdSection + ` > div.type-xi.flex.flex-wrap.gap-2.leading-\[\.8\].text-black > div > div > audio`,
				Reveal:      potdSection + ` > div.type-xi.flex.flex-wrap.gap-2.leading-\[\.8\].text-black > button > span`,
			},
			SettleDelay: 2 * time.Second,
			RevealDelay: time.Second,
			AudioWait:   5 * time.Second,
		},
		{
			Name: "audio-potd",
			Type: "Audio Poem of the Day",
			URL:  "https://www.poetryfoundation.org/podcasts/series/74634/audio-pod",
			Selectors: Selectors{
				Title:       audioSection + ` > div > header > h1 > p`,
				Description: audioSection + ` > div > div.flex.flex-col.gap-4.sm\:flex-row > div > div.copy-large.undefined.rich-text > p`,
				Date:        audioSection + ` > div > header > time`,
				Audio:       audioSection + ` > div > div.mb-6.grid.gap-6 > div > div > audio`,
			},
			SettleDelay: 2 * time.Second,
		},
	}
}

// LoadTargetsFile reads a YAML target list, rejecting unknown fields.
func LoadTargetsFile(path string) ([]Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read targets file: %w", err)
	}
	targets, err := ParseTargets(data)
	if err != nil {
		return nil, fmt.Errorf("parse targets file %s: %w", path, err)
	}
	return targets, nil
}

// ParseTargets decodes a YAML target list with strict field checking.
func ParseTargets(data []byte) ([]Target, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var f targetsFile
	if err := decoder.Decode(&f); err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "field") && strings.Contains(errStr, "not found") {
			return nil, fmt.Errorf("unknown target field (check for typos): %w", err)
		}
		return nil, err
	}
	return f.Targets, nil
}

// applyTargetDefaults fills unset per-target fields.
func applyTargetDefaults(targets []Target, navTimeout time.Duration) []Target {
	out := make([]Target, len(targets))
	for i, t := range targets {
		if t.NavigationTimeout <= 0 {
			t.NavigationTimeout = navTimeout
		}
		if t.Type == "" {
			t.Type = t.Name
		}
		out[i] = t
	}
	return out
}
