package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/yanet-platform/vrouter/common/go/xnetip"
	"github.com/yanet-platform/vrouter/controlplane/internal/gateway"
)

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader(header)
	return table
}

func renderRoutes(w io.Writer, routes []gateway.RouteRecord) {
	rows := make([][]string, 0, len(routes))
	for _, route := range routes {
		gw := "0.0.0.0"
		if route.Gateway.IsValid() {
			gw = route.Gateway.String()
		}
		rows = append(rows, []string{
			route.Prefix.Addr().String(),
			gw,
			xnetip.AddrFromUint32(xnetip.PrefixMask(route.Prefix)).String(),
			route.Iface,
			strconv.FormatUint(uint64(route.Metric), 10),
			route.UpdatedAt.Local().Format(time.DateTime),
			route.Source,
		})
	}

	table := newTable(w, []string{"DESTINATION", "GATEWAY", "MASK", "IFACE", "METRIC", "UPDATED", "SOURCE"})
	table.AppendBulk(rows)
	table.Render()
}

func renderNeighbours(w io.Writer, neighbours []gateway.NeighbourRecord, pending int) {
	rows := make([][]string, 0, len(neighbours))
	for _, neighbour := range neighbours {
		kind := "dynamic"
		if neighbour.Static {
			kind = "static"
		}
		rows = append(rows, []string{
			neighbour.Addr.String(),
			neighbour.HardwareAddr.String(),
			kind,
			neighbour.UpdatedAt.Local().Format(time.DateTime),
		})
	}

	table := newTable(w, []string{"ADDRESS", "HARDWARE ADDRESS", "TYPE", "UPDATED"})
	table.AppendBulk(rows)
	table.Render()

	fmt.Fprintf(w, "\npending resolutions: %d\n", pending)
}

func renderInterfaces(w io.Writer, ifaces []gateway.InterfaceRecord) {
	rows := make([][]string, 0, len(ifaces))
	for _, ifc := range ifaces {
		rows = append(rows, []string{
			ifc.Name,
			ifc.Prefix.String(),
			ifc.HardwareAddr.String(),
		})
	}

	table := newTable(w, []string{"NAME", "ADDRESS", "HARDWARE ADDRESS"})
	table.AppendBulk(rows)
	table.Render()
}
