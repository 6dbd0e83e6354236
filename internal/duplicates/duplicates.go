// Package duplicates flags near-identical event photos using whole-image
// embeddings in an HNSW graph. The report is advisory: duplicates are
// surfaced to the client, never dropped from the pipeline.
package duplicates

import (
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

const maxNeighbors = 16

// Group is a set of photo paths whose whole-image embeddings sit within the
// distance threshold of each other.
type Group struct {
	Photos []string `json:"photos"`
}

// Index holds whole-image embeddings for one session's event photos.
type Index struct {
	mu        sync.RWMutex
	graph     *hnsw.Graph[string]
	embedding map[string][]float32
}

// NewIndex creates an empty duplicate index.
func NewIndex() *Index {
	return &Index{embedding: make(map[string][]float32)}
}

// Add registers one photo's whole-image embedding. Empty embeddings are
// ignored so photos without an embedding never appear in any group.
func (x *Index) Add(path string, embedding []float32) {
	if len(embedding) == 0 {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.graph == nil {
		g := hnsw.NewGraph[string]()
		g.M = maxNeighbors
		g.Ml = 1.0 / float64(maxNeighbors)
		g.Distance = hnsw.CosineDistance
		x.graph = g
	}
	x.graph.Add(hnsw.MakeNode(path, embedding))
	x.embedding[path] = embedding
}

// Len returns the number of indexed photos.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.embedding)
}

// Groups clusters photos whose pairwise cosine distance is at most
// threshold. Candidate neighbors come from the HNSW graph; each candidate
// pair is verified with an exact distance check before it joins a group.
// Singleton photos are not reported.
func (x *Index) Groups(threshold float64) []Group {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.graph == nil || len(x.embedding) < 2 {
		return nil
	}

	paths := make([]string, 0, len(x.embedding))
	for p := range x.embedding {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	// Union-find over photos linked by a verified near-duplicate edge.
	parent := make(map[string]string, len(paths))
	var find func(string) string
	find = func(p string) string {
		for parent[p] != p {
			parent[p] = parent[parent[p]]
			p = parent[p]
		}
		return p
	}
	union := func(a, b string) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}
	for _, p := range paths {
		parent[p] = p
	}

	for _, path := range paths {
		query := x.embedding[path]
		neighbors := x.graph.Search(query, maxNeighbors)
		for _, n := range neighbors {
			if n.Key == path {
				continue
			}
			if float64(hnsw.CosineDistance(query, n.Value)) <= threshold {
				union(path, n.Key)
			}
		}
	}

	clusters := make(map[string][]string)
	for _, p := range paths {
		root := find(p)
		clusters[root] = append(clusters[root], p)
	}

	var groups []Group
	for _, members := range clusters {
		if len(members) < 2 {
			continue
		}
		sort.Strings(members)
		groups = append(groups, Group{Photos: members})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Photos[0] < groups[j].Photos[0] })
	return groups
}
