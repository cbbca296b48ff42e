package domain

import "sort"

// BuildLeaderboard joins names with scores. Players that left keep their entry.
// Order is score desc, then display name, then player id so recomputes are stable.
func BuildLeaderboard(names map[string]string, scores map[string]int) []LeaderboardEntry {
	entries := make([]LeaderboardEntry, 0, len(scores))
	for playerID, score := range scores {
		entries = append(entries, LeaderboardEntry{
			PlayerID:    playerID,
			DisplayName: names[playerID],
			Score:       score,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		if entries[i].DisplayName != entries[j].DisplayName {
			return entries[i].DisplayName < entries[j].DisplayName
		}
		return entries[i].PlayerID < entries[j].PlayerID
	})
	return entries
}
