package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/aegis-sentinel/topowatch/internal/topology"
)

type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatCSV  OutputFormat = "csv"
	FormatText OutputFormat = "text"
)

// Formatter renders one topology generation for the CLI.
type Formatter interface {
	Format(view *topology.TopologyView) ([]byte, error)
}

type JSONFormatter struct {
	Pretty bool
}

func (f *JSONFormatter) Format(view *topology.TopologyView) ([]byte, error) {
	if f.Pretty {
		return json.MarshalIndent(view, "", "  ")
	}
	return json.Marshal(view)
}

// CSVFormatter emits the flow table only, one row per bidirectional flow.
type CSVFormatter struct{}

func (f *CSVFormatter) Format(view *topology.TopologyView) ([]byte, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)

	header := []string{"endpoint_a", "endpoint_b", "transport", "l7_protocol", "vlan",
		"packets_a_to_b", "bytes_a_to_b", "packets_b_to_a", "bytes_b_to_a"}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, flow := range view.Flows {
		vlan := ""
		if flow.VLANID != 0 {
			vlan = strconv.Itoa(int(flow.VLANID))
		}
		row := []string{
			flow.EndpointA,
			flow.EndpointB,
			flow.Transport,
			flow.L7Protocol,
			vlan,
			strconv.FormatUint(flow.AtoB.Packets, 10),
			strconv.FormatUint(flow.AtoB.Bytes, 10),
			strconv.FormatUint(flow.BtoA.Packets, 10),
			strconv.FormatUint(flow.BtoA.Bytes, 10),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	return []byte(sb.String()), w.Error()
}

// TextFormatter renders a human-readable topology report, one section per
// model dimension. Empty sections are skipped.
type TextFormatter struct{}

func (f *TextFormatter) Format(view *topology.TopologyView) ([]byte, error) {
	var sb strings.Builder

	sb.WriteString(Section("topology"))
	sb.WriteString("\n")
	sb.WriteString("  " + KeyValue("Taken at", view.TakenAt.Format("2006-01-02 15:04:05")) + "\n")
	sb.WriteString("  " + KeyValue("Frames ingested", strconv.FormatUint(view.FramesIngested, 10)) + "\n")
	if view.FramesDropped > 0 {
		sb.WriteString("  " + Warning(fmt.Sprintf("Frames dropped: %d", view.FramesDropped)) + "\n")
	}
	if view.RootBridge != "" {
		sb.WriteString("  " + KeyValue("Root bridge", view.RootBridge) + "\n")
	}
	sb.WriteString(SectionEnd() + "\n")

	if len(view.Entities) > 0 {
		sb.WriteString(Section("entities") + "\n")
		tbl := NewTable("MAC", "ROLE", "VENDOR", "IPS", "PACKETS", "FINGERPRINTS").AlignRight(4, 5)
		for _, e := range view.Entities {
			tbl.AddRow(
				e.MAC,
				RoleBadge(string(e.Role)),
				e.Vendor,
				strings.Join(e.IPs, " "),
				strconv.FormatUint(e.PacketCount, 10),
				strconv.Itoa(len(e.Fingerprints)),
			)
		}
		sb.WriteString(tbl.Render() + "\n")
		sb.WriteString(SectionEnd() + "\n")
	}

	if len(view.Vlans) > 0 {
		sb.WriteString(Section("vlans") + "\n")
		tbl := NewTable("VLAN", "MEMBERS")
		for _, v := range view.Vlans {
			tbl.AddRow(strconv.Itoa(int(v.ID)), strings.Join(v.Members, " "))
		}
		sb.WriteString(tbl.Render() + "\n")
		sb.WriteString(SectionEnd() + "\n")
	}

	if len(view.Bridges) > 0 {
		sb.WriteString(Section("spanning tree") + "\n")
		tbl := NewTable("BRIDGE", "PRIORITY", "ROOT")
		for _, b := range view.Bridges {
			root := ""
			if b.Root {
				root = Success("root")
			}
			tbl.AddRow(b.MAC, fmt.Sprintf("%#04x", b.Priority), root)
		}
		sb.WriteString(tbl.Render() + "\n")
		sb.WriteString(SectionEnd() + "\n")
	}

	if len(view.Neighbors) > 0 {
		sb.WriteString(Section("neighbors") + "\n")
		tbl := NewTable("LOCAL", "REMOTE CHASSIS", "SYSTEM", "PORT", "PROTO")
		for _, n := range view.Neighbors {
			tbl.AddRow(n.LocalMAC, n.RemoteChassisID, n.SystemName, n.PortID, n.Protocol)
		}
		sb.WriteString(tbl.Render() + "\n")
		sb.WriteString(SectionEnd() + "\n")
	}

	if len(view.Rings) > 0 {
		sb.WriteString(Section("rings") + "\n")
		tbl := NewTable("RING", "PROTO", "MEMBERS")
		for _, r := range view.Rings {
			tbl.AddRow(r.ID, r.Protocol, strings.Join(r.Members, " "))
		}
		sb.WriteString(tbl.Render() + "\n")
		sb.WriteString(SectionEnd() + "\n")
	}

	if len(view.MulticastGroups) > 0 {
		sb.WriteString(Section("multicast") + "\n")
		tbl := NewTable("GROUP", "PROTO", "MEMBERS")
		for _, g := range view.MulticastGroups {
			tbl.AddRow(g.Address, g.Protocol, strings.Join(g.Members, " "))
		}
		sb.WriteString(tbl.Render() + "\n")
		sb.WriteString(SectionEnd() + "\n")
	}

	if len(view.Flows) > 0 {
		sb.WriteString(Section("flows") + "\n")
		tbl := NewTable("A", "B", "TRANSPORT", "PROTOCOL", "PKTS A>B", "PKTS B>A", "VLAN").AlignRight(4, 5)
		for _, flow := range view.Flows {
			vlan := ""
			if flow.VLANID != 0 {
				vlan = strconv.Itoa(int(flow.VLANID))
			}
			tbl.AddRow(
				flow.EndpointA,
				flow.EndpointB,
				flow.Transport,
				flow.L7Protocol,
				strconv.FormatUint(flow.AtoB.Packets, 10),
				strconv.FormatUint(flow.BtoA.Packets, 10),
				vlan,
			)
		}
		sb.WriteString(tbl.Render() + "\n")
		sb.WriteString(SectionEnd() + "\n")
	}

	return []byte(sb.String()), nil
}

func GetFormatter(format OutputFormat) Formatter {
	switch format {
	case FormatCSV:
		return &CSVFormatter{}
	case FormatText:
		return &TextFormatter{}
	default:
		return &JSONFormatter{Pretty: true}
	}
}
