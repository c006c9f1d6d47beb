// Package layout 计算头像环形视图中的座位坐标。
package layout

import "math"

// DefaultScale 让座位落在外接正方形内 80% 半径的圆上。
const DefaultScale = 0.8

// Point 的坐标以圆心为原点，取值范围 [-scale, scale]。
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Place 把 n 个座位均匀排在半径为 scale 的圆上，第 0 个座位在正右方，按角度递增。
func Place(n int, scale float64) []Point {
	if n <= 0 {
		return nil
	}
	out := make([]Point, n)
	for i := range out {
		theta := 2 * math.Pi * float64(i) / float64(n)
		out[i] = Point{X: scale * math.Cos(theta), Y: scale * math.Sin(theta)}
	}
	return out
}
