package pipeline

import (
	"github.com/dunamismax/pixelopt/internal/domain"
	"github.com/dunamismax/pixelopt/internal/preset"
)

// Encoder serializes an asset into the target container using the resolved profile. The asset's
// metadata blob is embedded into the output when it is non-empty.
type Encoder interface {
	Encode(asset *ImageAsset, target domain.Format, profile preset.EncodeProfile) ([]byte, error)
}
