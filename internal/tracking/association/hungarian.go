package association

import "math"

// HungarianAssign solves the rectangular assignment problem for an n×m cost
// matrix with the Kuhn–Munkres algorithm (Jonker–Volgenant potentials) in
// O(max(n,m)³). It returns assignments[i] = column assigned to row i, or -1
// when row i is unassigned. Entries that are +Inf or NaN are forbidden and
// never returned.
//
// Forbidden entries and padding are replaced by a finite sentinel larger
// than the sum of every admissible entry, so the solver first maximises the
// number of admissible pairs and then minimises their total cost, without
// the precision loss of a huge constant.
func HungarianAssign(cost [][]float64) []int {
	n := len(cost)
	if n == 0 {
		return nil
	}
	m := len(cost[0])
	result := make([]int, n)
	for i := range result {
		result[i] = -1
	}
	if m == 0 {
		return result
	}

	dim := n
	if m > dim {
		dim = m
	}

	minFinite := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			if !forbidden(cost[i][j]) {
				minFinite = math.Min(minFinite, cost[i][j])
			}
		}
	}
	// Shift so every admissible entry is non-negative.
	var total float64
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			if !forbidden(cost[i][j]) {
				total += cost[i][j] - minFinite
			}
		}
	}
	sentinel := total + 1

	c := make([][]float64, dim)
	for i := 0; i < dim; i++ {
		c[i] = make([]float64, dim)
		for j := 0; j < dim; j++ {
			if i < n && j < m && !forbidden(cost[i][j]) {
				c[i][j] = cost[i][j] - minFinite
			} else {
				c[i][j] = sentinel
			}
		}
	}

	// 1-indexed arrays keep the augmenting-path arithmetic simple.
	const inf = math.MaxFloat64 / 2

	u := make([]float64, dim+1) // row potentials
	v := make([]float64, dim+1) // column potentials
	p := make([]int, dim+1)     // p[j] = row assigned to column j
	way := make([]int, dim+1)   // way[j] = previous column in augmenting path
	minv := make([]float64, dim+1)
	used := make([]bool, dim+1)

	for i := 1; i <= dim; i++ {
		p[0] = i
		j0 := 0

		for j := 1; j <= dim; j++ {
			minv[j] = inf
			used[j] = false
		}

		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1

			for j := 1; j <= dim; j++ {
				if used[j] {
					continue
				}
				cur := c[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}

			if j1 < 0 {
				break
			}

			for j := 0; j <= dim; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}

			j0 = j1
			if p[j0] == 0 {
				break
			}
		}

		for j0 != 0 {
			p[j0] = p[way[j0]]
			j0 = way[j0]
		}
	}

	for j := 1; j <= dim; j++ {
		row, col := p[j]-1, j-1
		if row < 0 || row >= n || col >= m || forbidden(cost[row][col]) {
			continue
		}
		result[row] = col
	}
	return result
}

func forbidden(c float64) bool {
	return math.IsInf(c, 1) || math.IsNaN(c)
}
