package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// VersionSpec is one configured derivation target for image uploads.
// Width and Height describe the maximum box the derived image must fit
// inside; the aspect ratio of the original is always preserved.
type VersionSpec struct {
	Format string `validate:"required,oneof=jpeg png gif"`
	Width  int    `validate:"required,gt=0"`
	Height int    `validate:"required,gt=0"`
	Name   string `validate:"required"`
}

func (v VersionSpec) Area() int64 {
	return int64(v.Width) * int64(v.Height)
}

// ParseVersionSpec parses a configuration line of the form
// "format max-width max-height name", e.g. "jpeg 960 960 half".
func ParseVersionSpec(line string) (VersionSpec, error) {
	parts := strings.Fields(line)
	if len(parts) != 4 {
		return VersionSpec{}, fmt.Errorf("version spec %q should have 4 parts", line)
	}
	width, err := strconv.Atoi(parts[1])
	if err != nil {
		return VersionSpec{}, fmt.Errorf("version spec %q: bad width: %w", line, err)
	}
	height, err := strconv.Atoi(parts[2])
	if err != nil {
		return VersionSpec{}, fmt.Errorf("version spec %q: bad height: %w", line, err)
	}
	return VersionSpec{
		Format: strings.ToLower(parts[0]),
		Width:  width,
		Height: height,
		Name:   parts[3],
	}, nil
}

// SortVersionSpecs orders specs ascending by area. This is the processing
// order of the derivation loop: smaller renditions first.
func SortVersionSpecs(specs []VersionSpec) {
	sort.SliceStable(specs, func(i, j int) bool {
		return specs[i].Area() < specs[j].Area()
	})
}
