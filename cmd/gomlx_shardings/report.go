package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/sharding/pkg/core/distributed"
	"github.com/gomlx/sharding/pkg/core/shapes"
	"github.com/gomlx/sharding/pkg/core/sharding"
)

// shardRow describes one shard for the report.
type shardRow struct {
	Device      string
	Process     int
	Addressable bool
	Origin      string
	Shape       shapes.Shape
}

// shardRows disassembles the array and lists its shards in device order.
// Origins are "?" if the sharding has no index domain information.
func shardRows(s *sharding.Sharding, shape shapes.Shape, semantics sharding.SingleDeviceShardSemantics) ([]shardRow, error) {
	shards, err := s.Disassemble(shape, semantics)
	if err != nil {
		return nil, err
	}
	domains, err := s.IndexDomains(shape, semantics)
	if err != nil || len(domains) != len(shards) {
		domains = nil
	}
	rows := make([]shardRow, len(shards))
	for i, shard := range shards {
		device := shard.Sharding.Devices().At(0)
		rows[i] = shardRow{
			Device:      device.String(),
			Process:     device.ProcessIndex(),
			Addressable: device.IsAddressable(),
			Origin:      "?",
			Shape:       shard.Shape,
		}
		if domains != nil {
			rows[i].Origin = domains[i].Origin().String()
		}
	}
	return rows, nil
}

// report prints a summary of the sharding and the table of its shards.
func report(w io.Writer, setup *Setup, semantics sharding.SingleDeviceShardSemantics) error {
	s, shape := setup.Sharding, setup.Shape
	_, _ = fmt.Fprintln(w, titleStyle.Render("Sharding"))
	summary := newPlainTable(false, lipgloss.Right, lipgloss.Left)
	summary.Row("sharding", s.String())
	summary.Row("shape", shape.String())
	summary.Row("# elements", humanize.Comma(shape.NumElements()))
	summary.Row("# devices", humanize.Comma(int64(s.Devices().Len())))
	summary.Row("# addressable", humanize.Comma(int64(s.Devices().AddressableDeviceList().Len())))
	summary.Row("devices fingerprint", fmt.Sprintf("%016x", s.Devices().Fingerprint()))
	summary.Row("memory kind", s.MemoryKind().String())
	summary.Row("fully replicated", strconv.FormatBool(s.IsFullyReplicated()))
	if shardShape, err := s.ShardShape(shape); err == nil {
		summary.Row("shard shape", shardShape.String())
	} else {
		summary.Row("shard shape", "uneven: "+err.Error())
	}
	_, _ = fmt.Fprintln(w, summary.Render())

	if setup.Spec != nil {
		if err := reportMesh(w, setup.Spec, s, shape); err != nil {
			return err
		}
	}

	rows, err := shardRows(s, shape, semantics)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Shards (%s)", semantics)))
	table := newPlainTableWithReds(true, lipgloss.Right, lipgloss.Right, lipgloss.Center, lipgloss.Left, lipgloss.Left, lipgloss.Right)
	table.Table.Headers("Device", "Process", "Addressable", "Origin", "Shape", "# Elements")
	for _, row := range rows {
		// Shards smaller than the first one are highlighted.
		isRed := row.Shape.NumElements() < rows[0].Shape.NumElements()
		table.Row(isRed, row.Device, strconv.Itoa(row.Process), strconv.FormatBool(row.Addressable),
			row.Origin, row.Shape.String(), humanize.Comma(row.Shape.NumElements()))
	}
	_, _ = fmt.Fprintln(w, table.Table.Render())
	return nil
}

// reportMesh prints the mesh of a sharding built from a ShardingSpec: the replica groups along each mesh
// axis, and the logical shape recovered from the shard shape.
func reportMesh(w io.Writer, spec *distributed.ShardingSpec, s *sharding.Sharding, shape shapes.Shape) error {
	mesh := spec.Mesh
	_, _ = fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Mesh %q", mesh.Name())))
	table := newPlainTable(true, lipgloss.Left, lipgloss.Right, lipgloss.Left)
	table.Headers("Axis", "Size", "Replica Groups")
	for _, axis := range mesh.AxesNames() {
		size, err := mesh.AxisSize(axis)
		if err != nil {
			return err
		}
		groups, err := mesh.ComputeReplicaGroups([]string{axis})
		if err != nil {
			return err
		}
		table.Row(axis, strconv.Itoa(size), fmt.Sprint(groups))
	}
	_, _ = fmt.Fprintln(w, table.Render())

	summary := newPlainTable(false, lipgloss.Right, lipgloss.Left)
	summary.Row("sharding spec", spec.String())
	if shardShape, err := s.ShardShape(shape); err == nil {
		summary.Row("logical shape", spec.LogicalShapeForShard(shardShape).String())
	}
	_, _ = fmt.Fprintln(w, summary.Render())
	return nil
}
