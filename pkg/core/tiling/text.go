// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tiling

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gomlx/sharding/pkg/support/xslices"
	"github.com/pkg/errors"
	"github.com/spaolacci/murmur3"
)

// String returns the Spec in XLA's HloSharding text format. E.g.:
//
//	{replicated}
//	{maximal device=3}
//	{devices=[2,2]0,1,2,3}
//	{devices=[2,1,2]0,1,2,3 last_tile_dim_replicate}
//	{devices=[2,1,2]0,1,2,3 last_tile_dims={manual}}
func (s *Spec) String() string {
	switch s.kind {
	case KindMaximal:
		return fmt.Sprintf("{maximal device=%d}", s.maximalDevice)
	case KindTiled:
		var sb strings.Builder
		_, _ = fmt.Fprintf(&sb, "{devices=[%s]%s", xslices.Join(s.dims, ","), xslices.Join(s.devices, ","))
		switch {
		case len(s.subgroupTypes) == 1 && s.subgroupTypes[0] == SubgroupReplicated:
			sb.WriteString(" last_tile_dim_replicate")
		case len(s.subgroupTypes) > 0:
			_, _ = fmt.Fprintf(&sb, " last_tile_dims={%s}", xslices.Join(s.subgroupTypes, ", "))
		}
		sb.WriteString("}")
		return sb.String()
	default:
		return "{" + s.kind.String() + "}"
	}
}

// Fingerprint returns a hash of the Spec that is stable across processes.
func (s *Spec) Fingerprint() uint64 {
	return murmur3.Sum64([]byte(s.String()))
}

// Parse a Spec from the text format returned by Spec.String.
func Parse(text string) (*Spec, error) {
	original := text
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "{") || !strings.HasSuffix(text, "}") {
		return nil, errors.Errorf("tiling %q must be enclosed in braces", original)
	}
	text = strings.TrimSpace(text[1 : len(text)-1])
	switch text {
	case "replicated":
		return Replicate(), nil
	case "manual":
		return Manual(), nil
	case "unreduced":
		return Unreduced(), nil
	case "unknown":
		return Unknown(), nil
	}
	if deviceText, found := strings.CutPrefix(text, "maximal device="); found {
		device, err := strconv.Atoi(strings.TrimSpace(deviceText))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse maximal device of tiling %q", original)
		}
		return Maximal(device), nil
	}
	tileText, found := strings.CutPrefix(text, "devices=[")
	if !found {
		return nil, errors.Errorf("unknown tiling %q", original)
	}
	dimsText, rest, found := strings.Cut(tileText, "]")
	if !found {
		return nil, errors.Errorf("missing ']' in tiling %q", original)
	}
	devicesText, suffix := rest, ""
	if i := strings.Index(rest, "last_tile"); i >= 0 {
		devicesText, suffix = rest[:i], rest[i:]
	}
	dims, err := parseInts[int64](dimsText)
	if err != nil {
		return nil, errors.WithMessagef(err, "invalid tile assignment dims in tiling %q", original)
	}
	devices, err := parseInts[int](devicesText)
	if err != nil {
		return nil, errors.WithMessagef(err, "invalid tile assignment devices in tiling %q", original)
	}
	subgroupTypes, err := parseSubgroupTypes(strings.TrimSpace(suffix))
	if err != nil {
		return nil, errors.WithMessagef(err, "in tiling %q", original)
	}
	spec, err := Subgroup(dims, devices, subgroupTypes...)
	if err != nil {
		return nil, errors.WithMessagef(err, "invalid tiling %q", original)
	}
	return spec, nil
}

func parseInts[T int | int64](text string) ([]T, error) {
	parts := strings.Split(text, ",")
	values := make([]T, len(parts))
	for ii, part := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse %q", part)
		}
		values[ii] = T(v)
	}
	return values, nil
}

func parseSubgroupTypes(suffix string) ([]SubgroupType, error) {
	if suffix == "" {
		return nil, nil
	}
	if suffix == "last_tile_dim_replicate" {
		return []SubgroupType{SubgroupReplicated}, nil
	}
	listText, found := strings.CutPrefix(suffix, "last_tile_dims={")
	if !found || !strings.HasSuffix(listText, "}") {
		return nil, errors.Errorf("unknown tile assignment attribute %q", suffix)
	}
	listText = strings.TrimSuffix(listText, "}")
	var types []SubgroupType
	for _, name := range strings.Split(listText, ",") {
		name = strings.TrimSpace(name)
		switch name {
		case "replicated":
			types = append(types, SubgroupReplicated)
		case "manual":
			types = append(types, SubgroupManual)
		case "unreduced":
			types = append(types, SubgroupUnreduced)
		default:
			return nil, errors.Errorf("unknown subgroup type %q", name)
		}
	}
	return types, nil
}
