package roster

import "sort"

// Plan is the set of changes a reconciliation pass applies.
type Plan struct {
	// Accept lists every account with a pending incoming request, once each.
	Accept []string
	Upsert []FriendRecord
	// Drop lists records whose account is no longer linked or no longer related to the bot.
	Drop []string
}

// PlanPass compares the should-link set with the live relationships and the current roster.
func PlanPass(links []Link, live map[string]Relationship, current []FriendRecord) Plan {
	var plan Plan

	for id, rel := range live {
		if rel == RelationshipIncoming {
			plan.Accept = append(plan.Accept, id)
		}
	}
	sort.Strings(plan.Accept)

	prev := make(map[string]FriendRecord, len(current))
	for _, rec := range current {
		prev[rec.ExternalAccountID] = rec
	}

	wanted := make(map[string]struct{}, len(links))
	for _, link := range links {
		if _, dup := wanted[link.ExternalAccountID]; dup {
			continue
		}
		wanted[link.ExternalAccountID] = struct{}{}

		rel := live[link.ExternalAccountID]
		if rel == RelationshipNone {
			continue
		}
		plan.Upsert = append(plan.Upsert, recordFor(link, rel, prev[link.ExternalAccountID]))
	}
	sort.Slice(plan.Upsert, func(i, j int) bool {
		return plan.Upsert[i].ExternalAccountID < plan.Upsert[j].ExternalAccountID
	})

	for _, rec := range current {
		_, stillWanted := wanted[rec.ExternalAccountID]
		if !stillWanted || live[rec.ExternalAccountID] == RelationshipNone {
			plan.Drop = append(plan.Drop, rec.ExternalAccountID)
		}
	}
	sort.Strings(plan.Drop)

	return plan
}
