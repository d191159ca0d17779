package geoindex

import (
	"github.com/gocomet/ride-dispatch/internal/domain/geo"
	"github.com/mmcloughlin/geohash"
)

// geohashGrid buckets drivers by geohash cell.
type geohashGrid struct {
	precision uint
	cells     map[string]map[string]struct{}
	cellOf    map[string]string
}

func newGeohashGrid(precision uint) *geohashGrid {
	return &geohashGrid{
		precision: precision,
		cells:     make(map[string]map[string]struct{}),
		cellOf:    make(map[string]string),
	}
}

func (g *geohashGrid) insert(driverID string, p geo.Point) {
	cell := geohash.EncodeWithPrecision(p.Lat, p.Lng, g.precision)
	if old, ok := g.cellOf[driverID]; ok {
		if old == cell {
			return
		}
		g.removeFromCell(old, driverID)
	}

	members, ok := g.cells[cell]
	if !ok {
		members = make(map[string]struct{})
		g.cells[cell] = members
	}
	members[driverID] = struct{}{}
	g.cellOf[driverID] = cell
}

func (g *geohashGrid) remove(driverID string) {
	cell, ok := g.cellOf[driverID]
	if !ok {
		return
	}
	g.removeFromCell(cell, driverID)
	delete(g.cellOf, driverID)
}

func (g *geohashGrid) removeFromCell(cell, driverID string) {
	members := g.cells[cell]
	delete(members, driverID)
	if len(members) == 0 {
		delete(g.cells, cell)
	}
}

// search walks outward from the center cell through neighbours, keeping
// every cell whose box overlaps the query box.
func (g *geohashGrid) search(center geo.Point, minLat, minLng, maxLat, maxLng float64) []string {
	start := geohash.EncodeWithPrecision(center.Lat, center.Lng, g.precision)

	// A wide query over a sparse index is cheaper as a scan.
	box := geohash.BoundingBox(start)
	cellH := box.MaxLat - box.MinLat
	cellW := box.MaxLng - box.MinLng
	estimated := ((maxLat-minLat)/cellH + 2) * ((maxLng-minLng)/cellW + 2)
	if estimated > float64(len(g.cells)) {
		return g.scanCells(minLat, minLng, maxLat, maxLng)
	}

	var ids []string
	visited := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		cell := queue[0]
		queue = queue[1:]

		for id := range g.cells[cell] {
			ids = append(ids, id)
		}

		for _, n := range geohash.Neighbors(cell) {
			if visited[n] {
				continue
			}
			visited[n] = true
			if overlaps(geohash.BoundingBox(n), minLat, minLng, maxLat, maxLng) {
				queue = append(queue, n)
			}
		}
	}
	return ids
}

func (g *geohashGrid) scanCells(minLat, minLng, maxLat, maxLng float64) []string {
	var ids []string
	for cell, members := range g.cells {
		if !overlaps(geohash.BoundingBox(cell), minLat, minLng, maxLat, maxLng) {
			continue
		}
		for id := range members {
			ids = append(ids, id)
		}
	}
	return ids
}

func overlaps(b geohash.Box, minLat, minLng, maxLat, maxLng float64) bool {
	return b.MinLat <= maxLat && b.MaxLat >= minLat && b.MinLng <= maxLng && b.MaxLng >= minLng
}
