package profile

import (
	"fmt"
	"os"
	"strings"

	"github.com/drewcsillag/notecove/pkg/layout"
	"github.com/drewcsillag/notecove/pkg/types"
)

// ReadSDType reads the SD-TYPE marker; a missing marker defaults to prod.
func ReadSDType(sd layout.SD) (types.SDType, error) {
	data, err := os.ReadFile(sd.SDTypePath())
	if err != nil {
		if os.IsNotExist(err) {
			return types.SDTypeProd, nil
		}
		return "", fmt.Errorf("failed to read SD-TYPE: %w", err)
	}
	switch value := types.SDType(strings.TrimSpace(string(data))); value {
	case types.SDTypeDev, types.SDTypeProd:
		return value, nil
	default:
		return "", fmt.Errorf("unrecognized SD-TYPE %q", value)
	}
}

// WriteSDType stamps the SD-TYPE marker.
func WriteSDType(sd layout.SD, sdType types.SDType) error {
	if sdType != types.SDTypeDev && sdType != types.SDTypeProd {
		return fmt.Errorf("invalid SD type %q", sdType)
	}
	if err := layout.EnsureDir(sd.Root); err != nil {
		return err
	}
	if err := os.WriteFile(sd.SDTypePath(), []byte(sdType), 0644); err != nil {
		return fmt.Errorf("failed to write SD-TYPE: %w", err)
	}
	return nil
}

// CheckSDType verifies that an SD's marker matches the profile's expected
// type, guarding prod profiles against dev directories and vice versa.
func CheckSDType(sd layout.SD, want types.SDType) error {
	got, err := ReadSDType(sd)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("SD type mismatch: directory is %s, profile expects %s", got, want)
	}
	return nil
}
