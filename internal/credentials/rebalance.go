package credentials

import "sort"

// Rebalance renumbers priorities so valid accounts are tried first. Valid
// accounts get 1..N following their current priority order (file order breaks
// ties), expired accounts are pinned to ExpiredPriority, and accounts in any
// other state keep their priority. State and status are never touched.
//
// The input is not modified; the result keeps the input's slice order.
// Applying Rebalance to its own output yields the same priorities.
func Rebalance(accounts []Account) []Account {
	out := make([]Account, len(accounts))
	copy(out, accounts)

	var valid []int
	for i := range out {
		switch out[i].State {
		case StateValid:
			valid = append(valid, i)
		case StateExpired:
			out[i].Priority = ExpiredPriority
		}
	}

	sort.SliceStable(valid, func(a, b int) bool {
		return out[valid[a]].Priority < out[valid[b]].Priority
	})
	for rank, idx := range valid {
		out[idx].Priority = rank + 1
	}
	return out
}

// sortByPriority orders accounts ascending by priority, keeping file order on ties.
func sortByPriority(accounts []Account) {
	sort.SliceStable(accounts, func(i, j int) bool {
		return accounts[i].Priority < accounts[j].Priority
	})
}
