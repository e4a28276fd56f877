package service

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// License types that do not come from a beat's license tier.
const (
	LicenseTypeSoundKit = "sound_kit"
	LicenseTypeService  = "service"
)

// Rights is what a license type grants. Zero limits mean unlimited.
type Rights struct {
	StreamLimit        int    `yaml:"stream_limit"`
	DistributionCopies int    `yaml:"distribution_copies"`
	RadioBroadcasting  bool   `yaml:"radio_broadcasting"`
	MusicVideos        bool   `yaml:"music_videos"`
	CommercialUse      bool   `yaml:"commercial_use"`
	Exclusive          bool   `yaml:"exclusive"`
	Terms              string `yaml:"terms"`
}

type RightsTable map[string]Rights

// fallbackRights applies to license types missing from the table.
var fallbackRights = Rights{
	StreamLimit:        10000,
	DistributionCopies: 500,
	Terms:              "Non-profit use only. Contact the producer for broader rights.",
}

func DefaultRightsTable() RightsTable {
	return RightsTable{
		"mp3_lease": {
			StreamLimit:        100000,
			DistributionCopies: 2000,
			CommercialUse:      true,
			Terms:              "Non-exclusive lease. The producer keeps ownership and may license the beat to others.",
		},
		"wav_lease": {
			StreamLimit:        500000,
			DistributionCopies: 5000,
			RadioBroadcasting:  true,
			MusicVideos:        true,
			CommercialUse:      true,
			Terms:              "Non-exclusive lease. The producer keeps ownership and may license the beat to others.",
		},
		"trackout_lease": {
			StreamLimit:        1000000,
			DistributionCopies: 10000,
			RadioBroadcasting:  true,
			MusicVideos:        true,
			CommercialUse:      true,
			Terms:              "Non-exclusive lease including track stems. The producer keeps ownership.",
		},
		"unlimited_lease": {
			RadioBroadcasting: true,
			MusicVideos:       true,
			CommercialUse:     true,
			Terms:             "Non-exclusive lease without stream or copy limits.",
		},
		"exclusive": {
			RadioBroadcasting: true,
			MusicVideos:       true,
			CommercialUse:     true,
			Exclusive:         true,
			Terms:             "Exclusive rights. The beat is withdrawn from sale and will not be licensed again.",
		},
		LicenseTypeSoundKit: {
			CommercialUse: true,
			Terms:         "Samples may be used royalty-free in original productions. Redistribution or resale of the samples themselves is not permitted.",
		},
		LicenseTypeService: {
			Terms: "Covers the purchased service only. No rights to catalog recordings are granted.",
		},
	}
}

// For returns the rights for a license type, falling back to a conservative
// non-commercial grant for unknown types.
func (t RightsTable) For(licenseType string) (Rights, bool) {
	r, ok := t[licenseType]
	if !ok {
		return fallbackRights, false
	}
	return r, true
}

// LoadRightsTable reads a YAML file of license types and layers it over the
// built-in table. Entries replace built-in ones whole.
func LoadRightsTable(path string) (RightsTable, error) {
	table := DefaultRightsTable()
	if path == "" {
		return table, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rights file: %w", err)
	}

	var overrides RightsTable
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("parse rights file %s: %w", path, err)
	}
	for licenseType, rights := range overrides {
		if rights.StreamLimit < 0 || rights.DistributionCopies < 0 {
			return nil, fmt.Errorf("rights file %s: %s has a negative limit", path, licenseType)
		}
		table[licenseType] = rights
	}
	return table, nil
}
