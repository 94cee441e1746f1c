// Package export serializes reasoning sessions to interchange formats.
//
// Three formats are supported:
//   - json: the lossless snapshot encoding, readable back with ImportJSON
//   - yaml: the same document in YAML, for review and scenario authoring
//   - graphml: a GraphML document for graph visualization tools
//
// Example:
//
//	snap, _ := engine.Snapshot()
//	data, err := export.Export(snap, export.FormatGraphML)
//	if err != nil {
//		return err
//	}
//	err = export.ToFile(data, "session.graphml")
package export

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/thoughtgraph/pkg/reasoning"
)

// Format names an export encoding.
type Format string

// Supported formats.
const (
	FormatJSON    Format = "json"
	FormatYAML    Format = "yaml"
	FormatGraphML Format = "graphml"
)

// Formats lists every supported format.
var Formats = []Format{FormatJSON, FormatYAML, FormatGraphML}

// ErrUnsupportedFormat is returned for unknown format names.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// ParseFormat resolves a case-insensitive format name. "yml" is accepted as
// an alias for yaml.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "graphml", "xml":
		return FormatGraphML, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// Extension returns the conventional file extension for f.
func (f Format) Extension() string {
	return "." + string(f)
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatYAML:
		return "application/yaml"
	case FormatGraphML:
		return "application/xml"
	}
	return "application/octet-stream"
}

// Export encodes a snapshot in the given format.
func Export(s *reasoning.Snapshot, f Format) ([]byte, error) {
	if s == nil {
		return nil, errors.New("export: snapshot is nil")
	}
	switch f {
	case FormatJSON:
		return json.MarshalIndent(s, "", "  ")
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return nil, fmt.Errorf("encoding yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encoding yaml: %w", err)
		}
		return buf.Bytes(), nil
	case FormatGraphML:
		return GraphML(s)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
}

// ImportJSON decodes a snapshot produced by Export with FormatJSON.
func ImportJSON(data []byte) (*reasoning.Snapshot, error) {
	var s reasoning.Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &s, nil
}

// ImportYAML decodes a snapshot produced by Export with FormatYAML.
func ImportYAML(data []byte) (*reasoning.Snapshot, error) {
	var s reasoning.Snapshot
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &s, nil
}

// ToFile writes export data to path, creating parent directories.
func ToFile(data []byte, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating export directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ===== GraphML =====

const graphMLNamespace = "http://graphml.graphdrawing.org/xmlns"

// GraphMLDocument is the root element of a GraphML export.
type GraphMLDocument struct {
	XMLName xml.Name     `xml:"graphml"`
	XMLNS   string       `xml:"xmlns,attr"`
	Keys    []GraphMLKey `xml:"key"`
	Graph   GraphMLGraph `xml:"graph"`
}

// GraphMLKey declares one data attribute.
type GraphMLKey struct {
	ID       string `xml:"id,attr"`
	For      string `xml:"for,attr"`
	Name     string `xml:"attr.name,attr"`
	AttrType string `xml:"attr.type,attr"`
}

// GraphMLGraph holds nodes, edges and hyperedges.
type GraphMLGraph struct {
	ID          string             `xml:"id,attr"`
	EdgeDefault string             `xml:"edgedefault,attr"`
	Data        []GraphMLData      `xml:"data"`
	Nodes       []GraphMLNode      `xml:"node"`
	Edges       []GraphMLEdge      `xml:"edge"`
	Hyperedges  []GraphMLHyperedge `xml:"hyperedge"`
}

// GraphMLData is one key/value attribute.
type GraphMLData struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

// GraphMLNode is an exported node.
type GraphMLNode struct {
	ID   string        `xml:"id,attr"`
	Data []GraphMLData `xml:"data"`
}

// GraphMLEdge is an exported edge.
type GraphMLEdge struct {
	ID     string        `xml:"id,attr"`
	Source string        `xml:"source,attr"`
	Target string        `xml:"target,attr"`
	Data   []GraphMLData `xml:"data"`
}

// GraphMLHyperedge is an exported hyperedge. The target is the last
// endpoint and is marked with type "in".
type GraphMLHyperedge struct {
	ID        string            `xml:"id,attr"`
	Endpoints []GraphMLEndpoint `xml:"endpoint"`
	Data      []GraphMLData     `xml:"data"`
}

// GraphMLEndpoint is one hyperedge endpoint.
type GraphMLEndpoint struct {
	Node string `xml:"node,attr"`
	Type string `xml:"type,attr,omitempty"`
}

var graphMLKeys = []GraphMLKey{
	{ID: "task", For: "graph", Name: "task", AttrType: "string"},
	{ID: "stage", For: "graph", Name: "stage", AttrType: "string"},
	{ID: "label", For: "node", Name: "label", AttrType: "string"},
	{ID: "kind", For: "node", Name: "kind", AttrType: "string"},
	{ID: "content", For: "node", Name: "content", AttrType: "string"},
	{ID: "confidence", For: "all", Name: "confidence", AttrType: "string"},
	{ID: "mean_confidence", For: "node", Name: "mean_confidence", AttrType: "double"},
	{ID: "layer", For: "node", Name: "layer", AttrType: "string"},
	{ID: "impact", For: "node", Name: "impact_score", AttrType: "double"},
	{ID: "tags", For: "node", Name: "disciplinary_tags", AttrType: "string"},
	{ID: "bias_flags", For: "node", Name: "bias_flags", AttrType: "string"},
	{ID: "edge_type", For: "edge", Name: "edge_type", AttrType: "string"},
	{ID: "descriptor", For: "hyperedge", Name: "relationship_descriptor", AttrType: "string"},
}

// GraphML renders a snapshot as a GraphML document.
func GraphML(s *reasoning.Snapshot) ([]byte, error) {
	doc := GraphMLDocument{
		XMLNS: graphMLNamespace,
		Keys:  graphMLKeys,
		Graph: GraphMLGraph{
			ID:          "G",
			EdgeDefault: "directed",
			Data: []GraphMLData{
				{Key: "task", Value: s.Task},
				{Key: "stage", Value: s.Stage.String()},
			},
		},
	}

	for _, n := range s.Nodes {
		node := GraphMLNode{
			ID: string(n.ID),
			Data: []GraphMLData{
				{Key: "label", Value: n.Label},
				{Key: "kind", Value: string(n.Kind)},
				{Key: "content", Value: n.Content},
				{Key: "confidence", Value: formatVector(n.Confidence.Slice())},
				{Key: "mean_confidence", Value: formatFloat(n.MeanConfidence())},
				{Key: "layer", Value: n.Metadata.LayerID},
				{Key: "impact", Value: formatFloat(n.Metadata.ImpactScore)},
			},
		}
		if len(n.Metadata.DisciplinaryTags) > 0 {
			node.Data = append(node.Data, GraphMLData{Key: "tags", Value: strings.Join(n.Metadata.DisciplinaryTags, ",")})
		}
		if len(n.Metadata.BiasFlags) > 0 {
			node.Data = append(node.Data, GraphMLData{Key: "bias_flags", Value: strings.Join(n.Metadata.BiasFlags, ",")})
		}
		doc.Graph.Nodes = append(doc.Graph.Nodes, node)
	}

	for _, e := range s.Edges {
		doc.Graph.Edges = append(doc.Graph.Edges, GraphMLEdge{
			ID:     string(e.ID),
			Source: string(e.Source),
			Target: string(e.Target),
			Data: []GraphMLData{
				{Key: "edge_type", Value: string(e.Type)},
				{Key: "confidence", Value: formatFloat(e.Confidence)},
			},
		})
	}

	for _, h := range s.Hyperedges {
		he := GraphMLHyperedge{
			ID: string(h.ID),
			Data: []GraphMLData{
				{Key: "descriptor", Value: h.Descriptor},
				{Key: "confidence", Value: formatFloat(h.Confidence)},
			},
		}
		for _, m := range h.MemberIDs {
			he.Endpoints = append(he.Endpoints, GraphMLEndpoint{Node: string(m), Type: "out"})
		}
		he.Endpoints = append(he.Endpoints, GraphMLEndpoint{Node: string(h.Target), Type: "in"})
		doc.Graph.Hyperedges = append(doc.Graph.Hyperedges, he)
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding graphml: %w", err)
	}
	return append([]byte(xml.Header), append(out, '\n')...), nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatVector(v []float64) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = formatFloat(f)
	}
	return strings.Join(parts, ",")
}
