package docs

import (
	_ "embed"
	"encoding/json"
	"sort"
	"sync"
)

//go:embed swagger.json
var swaggerJSON []byte

// Endpoint is one method on one path of the API.
type Endpoint struct {
	Method      string
	Path        string
	Summary     string
	Description string
	Tags        []string
}

type operation struct {
	Summary     string   `json:"summary"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

var endpoints = sync.OnceValues(func() ([]Endpoint, error) {
	var doc struct {
		Paths map[string]map[string]operation `json:"paths"`
	}
	if err := json.Unmarshal(swaggerJSON, &doc); err != nil {
		return nil, err
	}

	var out []Endpoint
	for path, ops := range doc.Paths {
		for method, op := range ops {
			out = append(out, Endpoint{
				Method:      method,
				Path:        path,
				Summary:     op.Summary,
				Description: op.Description,
				Tags:        op.Tags,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Method < out[j].Method
	})
	return out, nil
})

// Endpoints lists swagger.json by path, then method.
func Endpoints() ([]Endpoint, error) {
	return endpoints()
}
