package permit

import "sort"

// GroupByCity groups active subscriptions by served city so each city is
// scraped and filtered once regardless of subscriber count.
//
// A user subscribed twice to the same city collapses to one entry (first
// occurrence wins). Cities with zero subscribers are absent by
// construction. The returned groups are sorted by city key so a run
// processes cities in a stable order.
func GroupByCity(subs []Subscription) []CityGroup {
	byCity := make(map[string][]Subscriber)
	seen := make(map[string]bool)

	for _, sub := range subs {
		if sub.City == "" || sub.UserID == "" {
			continue
		}
		key := sub.City + "\x00" + sub.UserID
		if seen[key] {
			continue
		}
		seen[key] = true
		byCity[sub.City] = append(byCity[sub.City], Subscriber{
			UserID: sub.UserID,
			Email:  sub.Email,
		})
	}

	groups := make([]CityGroup, 0, len(byCity))
	for city, members := range byCity {
		groups = append(groups, CityGroup{City: city, Subscribers: members})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].City < groups[j].City })
	return groups
}
