package telemetry

import "sort"

// minSolvableNodes is the smallest candidate set a 2D multilateration fit
// accepts. Fewer than three anchors leaves the position underdetermined.
const minSolvableNodes = 3

// FilterCandidates groups distance observations by (tag, bucket) and prunes
// each group to the nodes plausibly in range:
//
//  1. observations below rssFloor dB or with an undefined distance are
//     dropped;
//  2. the strongest remaining signal becomes the bucket's anchor, ties
//     broken by lowest node id so results do not depend on input order;
//  3. observations whose estimated distance exceeds the anchor's distance by
//     more than distCap meters are dropped;
//  4. groups left with fewer than three distinct nodes are unsolvable and
//     omitted from the result entirely.
//
// Each surviving CandidateSet is sorted by node id.
func FilterCandidates(obs []DistanceObservation, distCap, rssFloor float64) map[BucketKey]CandidateSet {
	groups := make(map[BucketKey][]DistanceObservation)
	for _, o := range obs {
		if o.MeanRSSI < rssFloor || !o.DistanceDefined() {
			continue
		}
		k := BucketKey{TagID: o.TagID, Bucket: o.Bucket}
		groups[k] = append(groups[k], o)
	}

	out := make(map[BucketKey]CandidateSet, len(groups))
	for k, members := range groups {
		anchor := members[0]
		for _, o := range members[1:] {
			if o.MeanRSSI > anchor.MeanRSSI ||
				(o.MeanRSSI == anchor.MeanRSSI && o.NodeID < anchor.NodeID) {
				anchor = o
			}
		}

		kept := members[:0]
		for _, o := range members {
			if o.Distance <= anchor.Distance+distCap {
				kept = append(kept, o)
			}
		}

		if countDistinctNodes(kept) < minSolvableNodes {
			continue
		}

		sort.Slice(kept, func(i, j int) bool { return kept[i].NodeID < kept[j].NodeID })
		out[k] = CandidateSet{Key: k, Observations: kept}
	}
	return out
}

func countDistinctNodes(obs []DistanceObservation) int {
	seen := make(map[string]struct{}, len(obs))
	for _, o := range obs {
		seen[o.NodeID] = struct{}{}
	}
	return len(seen)
}
