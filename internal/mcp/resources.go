package mcp

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/twilsonco/context-server/internal/segment"
)

// notesIndexURI is the resource listing what the index contains.
const notesIndexURI = "notes://index"

// notesIndex is the JSON payload of the notes://index resource.
type notesIndex struct {
	Files  []string       `json:"files"`
	Counts map[string]int `json:"counts"`
}

func (s *Server) registerResources() {
	s.mcp.AddResource(
		&mcp.Resource{
			URI:         notesIndexURI,
			Name:        "indexed_notes",
			Description: "Indexed note files and per-granularity segment counts",
			MIMEType:    "application/json",
		},
		s.handleNotesIndexResource,
	)
}

// handleNotesIndexResource returns the sorted indexed file list along
// with the per-granularity segment counts.
func (s *Server) handleNotesIndexResource(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	seen := make(map[string]struct{})
	files := make([]string, 0)
	for _, gr := range segment.All {
		for _, f := range s.index.Store(gr).Files() {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			files = append(files, f)
		}
	}
	sort.Strings(files)

	content, err := json.MarshalIndent(notesIndex{
		Files:  files,
		Counts: s.index.Status().Counts,
	}, "", "  ")
	if err != nil {
		return nil, MapError(err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(content),
			},
		},
	}, nil
}
