package hnsw

// LevelStats describes one layer of the graph.
type LevelStats struct {
	Nodes    int
	Links    int
	AvgLinks float64
}

// Stats summarizes the graph.
type Stats struct {
	M         int
	EF        int
	Dimension int
	Nodes     int // including tombstoned nodes
	Live      int
	Deleted   int
	MaxLevel  int
	Levels    []LevelStats
}

// Stats returns a summary of the graph.
func (h *HNSW) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := Stats{
		M:         h.opts.M,
		EF:        h.opts.EF,
		Dimension: h.dimension,
		Nodes:     len(h.nodes),
		Live:      len(h.byID),
		Deleted:   int(h.deleted.GetCardinality()),
		MaxLevel:  h.maxLevel,
	}
	if len(h.nodes) == 0 {
		return s
	}

	s.Levels = make([]LevelStats, h.maxLevel+1)
	for i := range h.nodes {
		for l, links := range h.nodes[i].links {
			s.Levels[l].Nodes++
			s.Levels[l].Links += len(links)
		}
	}
	for l := range s.Levels {
		if s.Levels[l].Nodes > 0 {
			s.Levels[l].AvgLinks = float64(s.Levels[l].Links) / float64(s.Levels[l].Nodes)
		}
	}
	return s
}
