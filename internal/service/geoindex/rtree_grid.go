package geoindex

import (
	"github.com/dhconnelly/rtreego"
	"github.com/gocomet/ride-dispatch/internal/domain/geo"
)

const pointTolerance = 1e-9

type treeItem struct {
	driverID string
	rect     rtreego.Rect
}

func (t *treeItem) Bounds() rtreego.Rect {
	return t.rect
}

// rtreeGrid keeps drivers in a 2-D R-tree over (lng, lat).
type rtreeGrid struct {
	tree  *rtreego.Rtree
	items map[string]*treeItem
}

func newRTreeGrid() *rtreeGrid {
	return &rtreeGrid{
		tree:  rtreego.NewTree(2, 25, 50),
		items: make(map[string]*treeItem),
	}
}

func (r *rtreeGrid) insert(driverID string, p geo.Point) {
	if old, ok := r.items[driverID]; ok {
		r.tree.Delete(old)
	}
	item := &treeItem{
		driverID: driverID,
		rect:     rtreego.Point{p.Lng, p.Lat}.ToRect(pointTolerance),
	}
	r.items[driverID] = item
	r.tree.Insert(item)
}

func (r *rtreeGrid) remove(driverID string) {
	item, ok := r.items[driverID]
	if !ok {
		return
	}
	r.tree.Delete(item)
	delete(r.items, driverID)
}

func (r *rtreeGrid) search(_ geo.Point, minLat, minLng, maxLat, maxLng float64) []string {
	box, err := rtreego.NewRectFromPoints(rtreego.Point{minLng, minLat}, rtreego.Point{maxLng, maxLat})
	if err != nil {
		return nil
	}

	hits := r.tree.SearchIntersect(box)
	ids := make([]string, 0, len(hits))
	for _, hit := range hits {
		ids = append(ids, hit.(*treeItem).driverID)
	}
	return ids
}
