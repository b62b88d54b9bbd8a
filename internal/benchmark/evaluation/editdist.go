package evaluation

const (
	backDiag = 0
	backUp   = 1
	backLeft = 2
)

// EditCounts returns the substitution, deletion, and insertion counts of the
// minimal word-level alignment between ref and hyp. Ties prefer substitution
// over deletion over insertion, so counts are deterministic for a given pair.
func EditCounts(ref, hyp []string) (subs, dels, ins int) {
	n, m := len(ref), len(hyp)

	cost := make([][]int, n+1)
	back := make([][]uint8, n+1)
	for i := range cost {
		cost[i] = make([]int, m+1)
		back[i] = make([]uint8, m+1)
	}
	for i := 1; i <= n; i++ {
		cost[i][0] = i
		back[i][0] = backUp
	}
	for j := 1; j <= m; j++ {
		cost[0][j] = j
		back[0][j] = backLeft
	}

	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if ref[i-1] == hyp[j-1] {
				cost[i][j] = cost[i-1][j-1]
				back[i][j] = backDiag
				continue
			}
			best := cost[i-1][j-1] + 1
			dir := uint8(backDiag)
			if del := cost[i-1][j] + 1; del < best {
				best = del
				dir = backUp
			}
			if insert := cost[i][j-1] + 1; insert < best {
				best = insert
				dir = backLeft
			}
			cost[i][j] = best
			back[i][j] = dir
		}
	}

	for i, j := n, m; i > 0 || j > 0; {
		switch back[i][j] {
		case backDiag:
			if i > 0 && j > 0 && ref[i-1] != hyp[j-1] {
				subs++
			}
			if i > 0 {
				i--
			}
			if j > 0 {
				j--
			}
		case backUp:
			dels++
			i--
		default:
			ins++
			j--
		}
	}
	return subs, dels, ins
}
