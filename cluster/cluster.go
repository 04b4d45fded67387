// Package cluster groups label tokens by spatial density. Statements like the
// government warning or the alcohol declaration occupy one tight block on the
// artwork, so DBSCAN over token centers recovers those blocks without any
// layout model: dense runs of words join, stray words across the label do not.
package cluster

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

const (
	// DefaultEps is the default neighborhood radius in pixels, sized for
	// word spacing on 300-DPI label art.
	DefaultEps = 100
	// DefaultMinPoints keeps singletons: one isolated word can still be a
	// complete statement ("12%").
	DefaultMinPoints = 1

	estimatedPointsPerCell = 4
)

// Point is a token center with its index into the caller's token slice and
// the token's confidence as weight.
type Point struct {
	X, Y   float64
	Weight float64
	Index  int
}

// Params controls the DBSCAN run.
type Params struct {
	// Eps is the neighborhood radius in pixels.
	Eps float64
	// MinPoints is the minimum neighborhood size (the point itself included)
	// for a core point. Points in no core neighborhood are labeled noise.
	MinPoints int
}

// DefaultParams returns the tuning the verifier ships with.
func DefaultParams() Params {
	return Params{Eps: DefaultEps, MinPoints: DefaultMinPoints}
}

// Cluster is one dense group; Members index into the clustered point slice
// and are sorted ascending.
type Cluster struct {
	Members []int
}

// spatialIndex is a regular grid over point positions. Cell size matches eps
// so a neighborhood query only touches the 3x3 cell block around a point.
type spatialIndex struct {
	cellSize float64
	grid     map[int64][]int
}

func newSpatialIndex(cellSize float64) *spatialIndex {
	return &spatialIndex{cellSize: cellSize, grid: make(map[int64][]int)}
}

func (si *spatialIndex) build(points []Point) {
	si.grid = make(map[int64][]int, len(points)/estimatedPointsPerCell+1)
	for i, p := range points {
		id := si.cellID(si.cellCoord(p.X), si.cellCoord(p.Y))
		si.grid[id] = append(si.grid[id], i)
	}
}

func (si *spatialIndex) cellCoord(v float64) int64 {
	return int64(math.Floor(v / si.cellSize))
}

// cellID maps a signed cell coordinate pair to a unique non-negative key via
// zigzag encoding and Szudzik's pairing function.
func (si *spatialIndex) cellID(cellX, cellY int64) int64 {
	var a, b int64
	if cellX >= 0 {
		a = 2 * cellX
	} else {
		a = -2*cellX - 1
	}
	if cellY >= 0 {
		b = 2 * cellY
	} else {
		b = -2*cellY - 1
	}
	if a >= b {
		return a*a + a + b
	}
	return a + b*b
}

// regionQuery returns the indices of all points within eps of points[idx],
// including idx itself.
func (si *spatialIndex) regionQuery(points []Point, idx int, eps float64) []int {
	p := points[idx]
	eps2 := eps * eps
	baseX := si.cellCoord(p.X)
	baseY := si.cellCoord(p.Y)
	var neighbors []int
	for dx := int64(-1); dx <= 1; dx++ {
		for dy := int64(-1); dy <= 1; dy++ {
			for _, cand := range si.grid[si.cellID(baseX+dx, baseY+dy)] {
				ddx := points[cand].X - p.X
				ddy := points[cand].Y - p.Y
				if ddx*ddx+ddy*ddy <= eps2 {
					neighbors = append(neighbors, cand)
				}
			}
		}
	}
	return neighbors
}

// DBSCAN labels points by density reachability. Points in no qualifying
// neighborhood are noise and belong to no cluster. The result is
// deterministic: clusters are ordered by their top-left extent and members
// ascend.
func DBSCAN(points []Point, params Params) []Cluster {
	if len(points) == 0 {
		return nil
	}
	if params.Eps <= 0 {
		params.Eps = DefaultEps
	}
	if params.MinPoints < 1 {
		params.MinPoints = DefaultMinPoints
	}

	n := len(points)
	// 0 = unvisited, -1 = noise, >0 = cluster id.
	labels := make([]int, n)
	clusterID := 0

	si := newSpatialIndex(params.Eps)
	si.build(points)

	for i := 0; i < n; i++ {
		if labels[i] != 0 {
			continue
		}
		neighbors := si.regionQuery(points, i, params.Eps)
		if len(neighbors) < params.MinPoints {
			labels[i] = -1
			continue
		}
		clusterID++
		expand(points, si, labels, i, neighbors, clusterID, params)
	}
	return buildClusters(points, labels, clusterID)
}

// expand grows a cluster from a core point using a queue so recursion depth
// never depends on cluster size.
func expand(points []Point, si *spatialIndex, labels []int, seed int, neighbors []int, clusterID int, params Params) {
	labels[seed] = clusterID
	for j := 0; j < len(neighbors); j++ {
		idx := neighbors[j]
		if labels[idx] == -1 {
			// Noise reached from a core point becomes a border member.
			labels[idx] = clusterID
		}
		if labels[idx] != 0 {
			continue
		}
		labels[idx] = clusterID
		next := si.regionQuery(points, idx, params.Eps)
		if len(next) >= params.MinPoints {
			neighbors = append(neighbors, next...)
		}
	}
}

func buildClusters(points []Point, labels []int, maxID int) []Cluster {
	if maxID == 0 {
		return nil
	}
	clusters := make([]Cluster, maxID)
	for i, label := range labels {
		if label > 0 {
			clusters[label-1].Members = append(clusters[label-1].Members, i)
		}
	}
	for i := range clusters {
		sort.Ints(clusters[i].Members)
	}
	sort.SliceStable(clusters, func(a, b int) bool {
		sa := Summarize(points, clusters[a])
		sb := Summarize(points, clusters[b])
		if sa.MinY != sb.MinY {
			return sa.MinY < sb.MinY
		}
		return sa.MinX < sb.MinX
	})
	return clusters
}

// Summary describes a cluster's extent and strength.
type Summary struct {
	Size                   int
	CentroidX, CentroidY   float64
	MinX, MinY, MaxX, MaxY float64
	// MeanWeight is the average point weight (token confidence).
	MeanWeight float64
}

// Summarize computes the summary of c over the point slice it was built from.
func Summarize(points []Point, c Cluster) Summary {
	s := Summary{Size: len(c.Members)}
	if s.Size == 0 {
		return s
	}
	xs := make([]float64, 0, s.Size)
	ys := make([]float64, 0, s.Size)
	ws := make([]float64, 0, s.Size)
	s.MinX, s.MinY = math.Inf(1), math.Inf(1)
	s.MaxX, s.MaxY = math.Inf(-1), math.Inf(-1)
	for _, idx := range c.Members {
		p := points[idx]
		xs = append(xs, p.X)
		ys = append(ys, p.Y)
		ws = append(ws, p.Weight)
		s.MinX = math.Min(s.MinX, p.X)
		s.MinY = math.Min(s.MinY, p.Y)
		s.MaxX = math.Max(s.MaxX, p.X)
		s.MaxY = math.Max(s.MaxY, p.Y)
	}
	s.CentroidX = stat.Mean(xs, nil)
	s.CentroidY = stat.Mean(ys, nil)
	s.MeanWeight = stat.Mean(ws, nil)
	return s
}
