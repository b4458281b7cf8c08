package services

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// GraphNode is one node of the case knowledge graph as rendered to the UI.
type GraphNode struct {
	ID         string                 `json:"id"`
	Label      string                 `json:"label"`
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// GraphLink is one relationship between two nodes.
type GraphLink struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

type GraphData struct {
	Nodes []GraphNode `json:"nodes"`
	Links []GraphLink `json:"links"`
}

// GraphService reads the case knowledge graph out of Neo4j. Graph
// construction happens in a separate export job; this service only
// queries.
type GraphService struct {
	driver neo4j.DriverWithContext
}

func NewGraphServiceFromEnv(ctx context.Context) (*GraphService, error) {
	uri := os.Getenv("NEO4J_URI")
	if uri == "" {
		return nil, fmt.Errorf("NEO4J_URI is not configured")
	}
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(
		os.Getenv("NEO4J_USER"),
		os.Getenv("NEO4J_PASSWORD"),
		"",
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	return &GraphService{driver: driver}, nil
}

func (gs *GraphService) Close(ctx context.Context) error {
	return gs.driver.Close(ctx)
}

// GetGraph returns the nodes and links scoped to one case.
func (gs *GraphService) GetGraph(ctx context.Context, caseID uint) (*GraphData, error) {
	session := gs.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (n {case_id: $caseId})
		 OPTIONAL MATCH (n)-[r]->(m {case_id: $caseId})
		 RETURN n, r, m`,
		map[string]any{"caseId": int64(caseID)})
	if err != nil {
		return nil, fmt.Errorf("graph query failed: %w", err)
	}

	data := &GraphData{Nodes: []GraphNode{}, Links: []GraphLink{}}
	seen := map[string]bool{}

	for result.Next(ctx) {
		record := result.Record()

		if v, ok := record.Get("n"); ok && v != nil {
			if node, ok := v.(dbtype.Node); ok {
				addNode(data, seen, node)
			}
		}
		if v, ok := record.Get("m"); ok && v != nil {
			if node, ok := v.(dbtype.Node); ok {
				addNode(data, seen, node)
			}
		}
		if v, ok := record.Get("r"); ok && v != nil {
			if rel, ok := v.(dbtype.Relationship); ok {
				data.Links = append(data.Links, GraphLink{
					Source: rel.StartElementId,
					Target: rel.EndElementId,
					Type:   rel.Type,
				})
			}
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("graph result error: %w", err)
	}

	return data, nil
}

// SummaryForAI renders the graph as text so it can be forwarded through
// the orchestrator as a user prompt.
func (gs *GraphService) SummaryForAI(ctx context.Context, caseID uint) (string, error) {
	data, err := gs.GetGraph(ctx, caseID)
	if err != nil {
		return "", err
	}
	if len(data.Nodes) == 0 {
		return "", nil
	}

	labels := make(map[string]string, len(data.Nodes))
	for _, n := range data.Nodes {
		labels[n.ID] = fmt.Sprintf("%s (%s)", n.Label, n.Type)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Knowledge graph for this case: %d entities, %d relationships.\n\n", len(data.Nodes), len(data.Links))
	for _, l := range data.Links {
		fmt.Fprintf(&b, "%s -[%s]-> %s\n", labels[l.Source], l.Type, labels[l.Target])
	}
	return b.String(), nil
}

func addNode(data *GraphData, seen map[string]bool, node dbtype.Node) {
	if seen[node.ElementId] {
		return
	}
	seen[node.ElementId] = true

	nodeType := ""
	if len(node.Labels) > 0 {
		nodeType = node.Labels[0]
	}
	label := node.ElementId
	if name, ok := node.Props["name"].(string); ok && name != "" {
		label = name
	}

	data.Nodes = append(data.Nodes, GraphNode{
		ID:         node.ElementId,
		Label:      label,
		Type:       nodeType,
		Properties: node.Props,
	})
}
