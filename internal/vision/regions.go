// SPDX-License-Identifier: MIT

package vision

import (
	"image"
	"sort"

	"github.com/alexeybutyrev/cv2pipeline/internal/frame"
)

// Region is one connected patch of foreground pixels in a binary mask.
type Region struct {
	Rect image.Rectangle // bounding box in mask coordinates
	Area int             // foreground pixel count
}

// FindRegions labels 4-connected foreground components of a binary mask
// with two-pass union-find and returns those with at least minArea pixels,
// largest first. Any non-zero pixel counts as foreground. Pixels touching
// only diagonally belong to separate regions.
func FindRegions(mask frame.Frame, minArea int) []Region {
	w, h := mask.Width, mask.Height
	if w == 0 || h == 0 {
		return nil
	}

	labels := make([]int32, w*h)
	parent := []int32{0} // label 0 is background

	find := func(l int32) int32 {
		for parent[l] != l {
			parent[l] = parent[parent[l]]
			l = parent[l]
		}
		return l
	}
	union := func(a, b int32) int32 {
		ra, rb := find(a), find(b)
		if ra == rb {
			return ra
		}
		if ra < rb {
			parent[rb] = ra
			return ra
		}
		parent[ra] = rb
		return rb
	}

	// First pass: provisional labels from the left and upper neighbors.
	for y := 0; y < h; y++ {
		row := mask.Pix[y*mask.Stride : y*mask.Stride+w]
		for x, v := range row {
			if v == 0 {
				continue
			}
			idx := y*w + x
			var left, up int32
			if x > 0 {
				left = labels[idx-1]
			}
			if y > 0 {
				up = labels[idx-w]
			}
			switch {
			case left == 0 && up == 0:
				l := int32(len(parent))
				parent = append(parent, l)
				labels[idx] = l
			case left != 0 && up != 0:
				labels[idx] = union(left, up)
			case left != 0:
				labels[idx] = left
			default:
				labels[idx] = up
			}
		}
	}

	// Second pass: resolve equivalences and accumulate per-component area
	// and bounding box.
	type span struct {
		area                   int
		minX, minY, maxX, maxY int
	}
	comps := make(map[int32]*span)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			l := labels[y*w+x]
			if l == 0 {
				continue
			}
			root := find(l)
			c := comps[root]
			if c == nil {
				c = &span{minX: x, minY: y, maxX: x, maxY: y}
				comps[root] = c
			}
			c.area++
			if x < c.minX {
				c.minX = x
			}
			if x > c.maxX {
				c.maxX = x
			}
			if y < c.minY {
				c.minY = y
			}
			if y > c.maxY {
				c.maxY = y
			}
		}
	}

	var regions []Region
	for _, c := range comps {
		if c.area >= minArea {
			regions = append(regions, Region{
				Rect: image.Rect(c.minX, c.minY, c.maxX+1, c.maxY+1),
				Area: c.area,
			})
		}
	}

	sort.Slice(regions, func(i, j int) bool {
		a, b := regions[i], regions[j]
		if a.Area != b.Area {
			return a.Area > b.Area
		}
		if a.Rect.Min.Y != b.Rect.Min.Y {
			return a.Rect.Min.Y < b.Rect.Min.Y
		}
		return a.Rect.Min.X < b.Rect.Min.X
	})
	return regions
}
