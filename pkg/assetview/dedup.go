package assetview

// Dedup drops rows whose (Asset ID, Host ID) pair was already seen. The
// first occurrence wins and order is preserved.
func Dedup(rows []Row) []Row {
	type identity struct {
		assetID string
		hostID  string
	}

	seen := make(map[identity]struct{}, len(rows))
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		id := identity{r.AssetID, r.HostID}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, r)
	}
	return out
}
