// Package preset resolves named presets into per-format encode parameters.
package preset

import (
	"fmt"
	"sort"

	"github.com/dunamismax/pixelopt/internal/domain"
)

// EncodeProfile holds the encode parameters for every supported output format.
type EncodeProfile struct {
	JPEGQuality      int `json:"jpeg_quality" mapstructure:"jpeg_quality"`
	WebPQuality      int `json:"webp_quality" mapstructure:"webp_quality"`
	PNGCompressLevel int `json:"png_compress_level" mapstructure:"png_compress_level"`
	WebPMethod       int `json:"webp_method" mapstructure:"webp_method"`
}

// QualityFor returns the lossy quality applied to target, or nil for lossless targets.
func (p EncodeProfile) QualityFor(target domain.Format) *int {
	if !target.Lossy() {
		return nil
	}
	if target == domain.FormatWebP {
		return domain.IntPtr(p.WebPQuality)
	}
	return domain.IntPtr(p.JPEGQuality)
}

// Table is an immutable preset table. Build it with NewTable or DefaultTable.
type Table struct {
	profiles map[string]EncodeProfile
}

func NewTable(profiles map[string]EncodeProfile) Table {
	copied := make(map[string]EncodeProfile, len(profiles))
	for name, p := range profiles {
		copied[name] = p
	}
	return Table{profiles: copied}
}

func DefaultTable() Table {
	return NewTable(map[string]EncodeProfile{
		domain.PresetSpeed: {
			JPEGQuality:      90,
			WebPQuality:      90,
			PNGCompressLevel: 6,
			WebPMethod:       4,
		},
		domain.PresetBalanced: {
			JPEGQuality:      85,
			WebPQuality:      85,
			PNGCompressLevel: 9,
			WebPMethod:       6,
		},
		domain.PresetMaxQuality: {
			JPEGQuality:      95,
			WebPQuality:      95,
			PNGCompressLevel: 9,
			WebPMethod:       6,
		},
	})
}

func (t Table) Names() []string {
	names := make([]string, 0, len(t.profiles))
	for name := range t.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t Table) Has(name string) bool {
	_, ok := t.profiles[name]
	return ok
}

// Resolve returns the profile for name with an explicit quality applied to the lossy
// formats only. Compression level and WebP method always stay preset-controlled.
func (t Table) Resolve(name string, quality *int) (EncodeProfile, error) {
	profile, ok := t.profiles[name]
	if !ok {
		return EncodeProfile{}, fmt.Errorf("%w: unknown preset %q", domain.ErrInvalidOption, name)
	}
	if quality == nil {
		return profile, nil
	}
	if *quality < domain.MinQuality || *quality > domain.MaxQuality {
		return EncodeProfile{}, fmt.Errorf("%w: quality out of range: %d", domain.ErrInvalidOption, *quality)
	}
	if *quality != profile.JPEGQuality {
		profile.JPEGQuality = *quality
	}
	if *quality != profile.WebPQuality {
		profile.WebPQuality = *quality
	}
	return profile, nil
}
