package tap

import (
	"io"

	"github.com/goccy/go-json"

	"github.com/zmcp/tap-aptem/internal/config"
	"github.com/zmcp/tap-aptem/internal/constants"
)

// About describes the tap for --about
type About struct {
	Name         string           `json:"name"`
	Version      string           `json:"version"`
	Capabilities []string         `json:"capabilities"`
	Settings     []config.Setting `json:"settings"`
}

// NewAbout returns the tap description
func NewAbout(version string) About {
	return About{
		Name:         constants.TapName,
		Version:      version,
		Capabilities: []string{"catalog", "discover", "state"},
		Settings:     config.Settings(),
	}
}

// WriteAbout writes the tap description as JSON
func WriteAbout(w io.Writer, version string) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(NewAbout(version))
}
